package reservations

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in integer minor currency units (paise, cents).
type Money struct {
	Minor    int64  `json:"amount_minor"`
	Currency string `json:"currency"`
}

// MoneyFromMajor parses an operator-entered major amount such as "500" or
// "499.50" into minor units without going through floating point.
func MoneyFromMajor(major string, currency string) (Money, error) {
	major = strings.TrimSpace(major)
	if major == "" {
		return Money{}, fmt.Errorf("reservations: empty amount")
	}
	if strings.HasPrefix(major, "-") {
		return Money{}, fmt.Errorf("reservations: negative amount %q", major)
	}
	whole, frac, hasFrac := strings.Cut(major, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return Money{}, fmt.Errorf("reservations: amount %q must have at most two decimals", major)
	}
	if !asciiDigits(whole) || (hasFrac && !asciiDigits(frac)) {
		return Money{}, fmt.Errorf("reservations: parse amount %q: digits only", major)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("reservations: parse amount %q: %w", major, err)
	}
	if units > (math.MaxInt64-99)/100 {
		return Money{}, fmt.Errorf("reservations: amount %q out of range", major)
	}
	var cents int64
	if hasFrac {
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Money{}, fmt.Errorf("reservations: parse amount %q", major)
		}
	}
	return Money{Minor: units*100 + cents, Currency: normalizeCurrency(currency)}, nil
}

func asciiDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Major formats the amount in major units with two decimals.
func (m Money) Major() string {
	return fmt.Sprintf("%d.%02d", m.Minor/100, m.Minor%100)
}

func (m Money) String() string {
	return m.Major() + " " + m.Currency
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "INR"
	}
	return code
}
