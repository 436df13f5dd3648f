// Package middleware содержит HTTP middleware реферального сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/referral-system/internal/model"
)

type contextKey string

const callerKey contextKey = "caller"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
	// Права администратора в cookie проверяются заново при каждом входе.
	adminCookieTTL = 12 * time.Hour
)

// ErrNoSecret возвращается, если секрет не задан и случайный ключ получить не удалось.
var ErrNoSecret = errors.New("auth secret is empty and random key generation failed")

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный, и cookie перестают быть валидными после перезапуска.
func NewAuthMiddleware(secret string) (*AuthMiddleware, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSecret, err)
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}, nil
}

// Middleware проверяет cookie авторизации и добавляет вызывающего в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// AdminOnly пропускает дальше только администраторов. Должен стоять после Middleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetCallerFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !caller.Admin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
// Cookie администратора живёт adminCookieTTL, обычного пользователя authCookieTTL.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, caller model.Caller) {
	ttl := authCookieTTL
	if caller.Admin {
		ttl = adminCookieTTL
	}
	expires := a.now().Add(ttl)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(caller, expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// Формат значения: <id>.<0|1>.<unix expiry>.<hex hmac>.
func (a *AuthMiddleware) sign(caller model.Caller, expires time.Time) string {
	payload := strconv.FormatInt(caller.UserID, 10) + "." + boolFlag(caller.Admin) + "." +
		strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + a.signature(payload)
}

func (a *AuthMiddleware) signature(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(value string) (model.Caller, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 4 {
		return model.Caller{}, false
	}

	payload := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(parts[3]), []byte(a.signature(payload))) {
		return model.Caller{}, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.Caller{}, false
	}

	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || !a.now().Before(time.Unix(expires, 0)) {
		return model.Caller{}, false
	}

	switch parts[1] {
	case "0":
		return model.Caller{UserID: id}, true
	case "1":
		return model.Caller{UserID: id, Admin: true}, true
	default:
		return model.Caller{}, false
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WithCaller возвращает контекст с данными вызывающего.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCallerFromContext извлекает вызывающего из контекста запроса.
func GetCallerFromContext(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(model.Caller)
	return caller, ok
}
