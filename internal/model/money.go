package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const moneyScale = 2

var maxMoney = decimal.NewFromInt(math.MaxInt64)

// Money хранит денежную сумму в минимальных единицах валюты (центах).
// Арифметика только целочисленная, округлений при накоплении нет.
type Money int64

// ParseMoney разбирает десятичную строку вида "40.00" в центы.
// Строки с более чем двумя знаками после запятой отклоняются.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	cents := d.Shift(moneyScale)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: more than %d decimal places in %q", ErrInvalidAmount, moneyScale, s)
	}
	if cents.Abs().GreaterThan(maxMoney) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}

	return Money(cents.IntPart()), nil
}

// MustParseMoney как ParseMoney, но паникует при ошибке. Для констант и тестов.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String форматирует сумму с двумя знаками после запятой.
func (m Money) String() string {
	return decimal.New(int64(m), -moneyScale).StringFixed(moneyScale)
}

// BasisPoints возвращает долю суммы в базисных пунктах, округляя вниз до цента.
func (m Money) BasisPoints(bps int64) Money {
	if bps <= 0 || m <= 0 {
		return 0
	}
	return Money(decimal.NewFromInt(int64(m)).Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000)).Floor().IntPart())
}

// MarshalJSON кодирует сумму десятичной строкой.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON принимает десятичную строку ("40.00") или целое число центов (4000).
// Дробные числа в JSON отклоняются.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		v, err := ParseMoney(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}

	if bytes.ContainsAny(data, ".eE") {
		return fmt.Errorf("%w: binary floating point amounts are not accepted", ErrInvalidAmount)
	}

	var cents int64
	if err := json.Unmarshal(data, &cents); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	*m = Money(cents)
	return nil
}
