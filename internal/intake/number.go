package intake

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a leniently decoded JSON amount. It accepts JSON numbers and
// strings such as "1,200.50" or "$300". Anything unparseable, negative, or
// null decodes to zero with Malformed set; decoding never fails.
type Number struct {
	decimal.Decimal
	Malformed bool
}

// NewNumber wraps a float.
func NewNumber(f float64) Number {
	return Number{Decimal: decimal.NewFromFloat(f)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{Decimal: decimal.Zero}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			n.Malformed = true
			return nil
		}
		raw = cleanNumeric(s)
		if raw == "" {
			return nil
		}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		n.Malformed = true
		return nil
	}
	n.Decimal = d
	return nil
}

// MarshalJSON writes the number as a JSON number.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.Decimal.String()), nil
}

// Float returns the value as float64.
func (n Number) Float() float64 {
	return n.InexactFloat64()
}

// cleanNumeric strips currency symbols, thousands separators and spaces.
func cleanNumeric(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '€', '£', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
