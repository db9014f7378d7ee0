package domain

import "strings"

// Currency is an ISO 4217 alphabetic code. Amounts are always carried as
// int64 minor units next to it.
type Currency string

func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func NormalizeCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}
