// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/mmeshcher/referral-system/internal/codegen"
)

// NormalizeCode убирает пробелы по краям и приводит код к верхнему регистру.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidReferralCode проверяет, что код имеет формат, который выдаёт генератор.
func IsValidReferralCode(code string) bool {
	if !strings.HasPrefix(code, codegen.Prefix) {
		return false
	}

	body := code[len(codegen.Prefix):]
	if len(body) != codegen.Length {
		return false
	}

	for i := 0; i < len(body); i++ {
		if strings.IndexByte(codegen.Alphabet, body[i]) < 0 {
			return false
		}
	}

	return true
}
