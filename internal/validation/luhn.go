// Package validation формирует и проверяет номера заказов и споров.
package validation

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
)

const (
	OrderPrefix   = "WC"
	DisputePrefix = "DISP"

	stampLayout = "20060102150405"
)

// NewOrderNumber возвращает номер заказа вида WC-<yyyymmddhhmmss>-<6 цифр><контрольная цифра>.
func NewOrderNumber(t time.Time) string {
	return newNumber(OrderPrefix, t)
}

// NewDisputeNumber возвращает номер спора вида DISP-<yyyymmddhhmmss>-<6 цифр><контрольная цифра>.
func NewDisputeNumber(t time.Time) string {
	return newNumber(DisputePrefix, t)
}

func newNumber(prefix string, t time.Time) string {
	stamp := t.UTC().Format(stampLayout)
	suffix := fmt.Sprintf("%06d", rand.IntN(1_000_000))
	check := luhnCheckDigit(stamp + suffix)
	return prefix + "-" + stamp + "-" + suffix + string(check)
}

// IsValidOrderNumber проверяет формат номера заказа и контрольную цифру по алгоритму Луна.
func IsValidOrderNumber(number string) bool {
	return isValidNumber(OrderPrefix, number)
}

// IsValidDisputeNumber проверяет формат номера спора и контрольную цифру.
func IsValidDisputeNumber(number string) bool {
	return isValidNumber(DisputePrefix, number)
}

func isValidNumber(prefix, number string) bool {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != prefix {
		return false
	}
	if len(parts[1]) != len(stampLayout) || len(parts[2]) != 7 {
		return false
	}
	if _, err := time.Parse(stampLayout, parts[1]); err != nil {
		return false
	}
	return luhnValid(parts[1] + parts[2])
}

func luhnSum(digits string, double bool) (int, bool) {
	sum := 0

	for i := len(digits) - 1; i >= 0; i-- {
		ch := rune(digits[i])
		if !unicode.IsDigit(ch) {
			return 0, false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum, true
}

func luhnValid(number string) bool {
	if number == "" {
		return false
	}
	sum, ok := luhnSum(number, false)
	return ok && sum%10 == 0
}

// luhnCheckDigit вычисляет цифру, после дописывания которой строка проходит проверку Луна.
func luhnCheckDigit(digits string) byte {
	sum, _ := luhnSum(digits, true)
	return byte('0' + (10-sum%10)%10)
}
