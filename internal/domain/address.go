package domain

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress проверяет формат EVM-адреса (0x + 40 hex, регистр не важен).
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress приводит адрес к ключу хранилища.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseAddress валидирует и нормализует адрес; field попадает в ValidationError.
func ParseAddress(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError(field, "address required")
	}
	if !IsAddress(raw) {
		return "", NewValidationError(field, "must match ^0x[a-fA-F0-9]{40}$")
	}
	return NormalizeAddress(raw), nil
}

// ParseAmount разбирает десятичную строку без потери точности. Допускаются только значения > 0.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, NewValidationError(field, "amount required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, NewValidationError(field, "not a decimal number")
	}
	if !d.IsPositive() {
		return decimal.Zero, NewValidationError(field, "must be greater than zero")
	}
	return d, nil
}
