// Package config содержит логику чтения конфигурации реферального сервиса.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации реферального сервиса.
// Пустой DatabaseURI означает работу с хранилищем в памяти.
type Config struct {
	RunAddress  string   `env:"RUN_ADDRESS"`
	DatabaseURI string   `env:"DATABASE_URI"`
	AuthSecret  string   `env:"AUTH_SECRET"`
	AdminLogins []string `env:"ADMIN_LOGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envAdminLogins := cfg.AdminLogins

	var adminLogins string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth cookies")
	flag.StringVar(&adminLogins, "admins", "", "comma separated logins with admin privileges")

	flag.Parse()

	cfg.AdminLogins = splitLogins(adminLogins)

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if len(envAdminLogins) > 0 {
		cfg.AdminLogins = splitLogins(strings.Join(envAdminLogins, ","))
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

func splitLogins(raw string) []string {
	var res []string
	for _, login := range strings.Split(raw, ",") {
		if login = strings.TrimSpace(login); login != "" {
			res = append(res, login)
		}
	}
	return res
}
