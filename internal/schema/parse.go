package schema

import (
	"strconv"
	"strings"

	"main/pkg/exception"
)

const maxInt64 = int64(^uint64(0) >> 1)

const scaleDigits = 8

// ParsePrice parses a decimal string (e.g. "123.45") into a scaled Price.
// The parse path never touches float64.
func ParsePrice(s string) (Price, error) {
	v, err := parseFixedPoint(s)
	return Price(v), err
}

// ParseQuantity parses a decimal string into a scaled Quantity.
func ParseQuantity(s string) (Quantity, error) {
	v, err := parseFixedPoint(s)
	return Quantity(v), err
}

// FormatPrice renders a scaled Price as a decimal string.
func FormatPrice(p Price) string {
	return formatFixedPoint(int64(p))
}

// FormatQuantity renders a scaled Quantity as a decimal string.
func FormatQuantity(q Quantity) string {
	return formatFixedPoint(int64(q))
}

// FormatNotional renders a scaled Notional as a decimal string.
func FormatNotional(n Notional) string {
	return formatFixedPoint(int64(n))
}

// Mul computes price*qty as a Notional, reporting overflow.
func Mul(price Price, qty Quantity) (Notional, bool) {
	p, q := int64(price), int64(qty)
	neg := false
	if p < 0 {
		p, neg = -p, !neg
	}
	if q < 0 {
		q, neg = -q, !neg
	}
	if q != 0 && p > maxInt64/q {
		return 0, true
	}
	n := p * q / Scale
	if neg {
		n = -n
	}
	return Notional(n), false
}

func parseFixedPoint(s string) (int64, error) {
	if s == "" {
		return 0, exception.ErrInvalidArgument
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, exception.ErrInvalidArgument
	}

	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}

	sign := int64(1)
	if strings.HasPrefix(intPart, "-") {
		sign = -1
		intPart = intPart[1:]
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, err
		}
		intVal = v
	}

	// Pad or truncate the fraction to the implied scale.
	if len(fracPart) > scaleDigits {
		fracPart = fracPart[:scaleDigits]
	} else {
		fracPart += strings.Repeat("0", scaleDigits-len(fracPart))
	}
	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, err
		}
		fracVal = v
	}

	if intVal > (maxInt64-fracVal)/Scale {
		return 0, exception.ErrInvalidArgument
	}
	return sign * (intVal*Scale + fracVal), nil
}

func formatFixedPoint(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := v / Scale
	frac := v % Scale

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(whole, 10))
	if frac != 0 {
		digits := strconv.FormatInt(frac, 10)
		digits = strings.Repeat("0", scaleDigits-len(digits)) + digits
		digits = strings.TrimRight(digits, "0")
		b.WriteByte('.')
		b.WriteString(digits)
	}
	return b.String()
}
