// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatCoins formats an amount of virtual currency with thousands separators.
func FormatCoins(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := groupThousands(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var sb strings.Builder
	head := n % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatPrice formats a coin price, keeping more precision for cheap coins.
func FormatPrice(price float64) string {
	if price < 1 {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatCoins(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatAmount formats a coin quantity without trailing zeros.
func FormatAmount(amount float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.6f", amount), "0")
	return strings.TrimSuffix(s, ".")
}

// ShortID returns the first eight characters of an identifier.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
