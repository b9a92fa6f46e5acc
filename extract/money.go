package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedMoney is returned by ParseMoney for strings outside the
// supplier locale pattern.
var ErrMalformedMoney = errors.New("malformed monetary value")

var (
	// moneyPattern: "." groups thousands, "," precedes exactly two decimals.
	moneyPattern = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})+|\d+),\d{2}$`)
	ncmPattern   = regexp.MustCompile(`^\d{8}$`)
)

// trimCurrency drops a leading "R$" glued to the amount ("R$1.234,56").
func trimCurrency(tok string) string {
	return strings.TrimPrefix(tok, "R$")
}

// IsMoney reports whether tok is a monetary token in the supplier locale.
func IsMoney(tok string) bool {
	return moneyPattern.MatchString(trimCurrency(tok))
}

// IsNCM reports whether tok is an 8-digit tariff classification code.
func IsNCM(tok string) bool {
	return ncmPattern.MatchString(tok)
}

// ParseMoney converts a locale monetary string ("1.234,56") to a number.
// Anything that does not match the pattern, including "10.50", is an error.
func ParseMoney(s string) (float64, error) {
	s = trimCurrency(strings.TrimSpace(s))
	if !moneyPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMoney, s)
	}
	plain := strings.ReplaceAll(s, ".", "")
	plain = strings.Replace(plain, ",", ".", 1)
	v, err := strconv.ParseFloat(plain, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedMoney, s, err)
	}
	return v, nil
}

// moneyIndexes returns the positions of every monetary token at or after from.
func moneyIndexes(tokens []string, from int) []int {
	var idx []int
	for i := max(from, 0); i < len(tokens); i++ {
		if IsMoney(tokens[i]) {
			idx = append(idx, i)
		}
	}
	return idx
}
