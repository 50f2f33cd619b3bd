package models

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// MinorUnits is the number of minor units in one currency unit.
const MinorUnits = 100

// Money is an amount in minor units (cents). Sums of Money are exact.
//
// On the wire Money is a decimal number in major units, which is what the
// backend's numeric columns hold.
type Money int64

// FromFloat converts a major-unit amount, rounding half away from zero.
func FromFloat(v float64) Money {
	return Money(math.Round(v * MinorUnits))
}

// Float returns the amount in major units.
func (m Money) Float() float64 {
	return float64(m) / MinorUnits
}

// DivRound divides by n, rounding half away from zero. It returns 0 when n is 0.
func (m Money) DivRound(n int) Money {
	if n == 0 {
		return 0
	}
	q, r := int64(m)/int64(n), int64(m)%int64(n)
	if r < 0 {
		r = -r
	}
	d := int64(n)
	if d < 0 {
		d = -d
	}
	if 2*r >= d {
		if (m < 0) != (n < 0) {
			q--
		} else {
			q++
		}
	}
	return Money(q)
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/MinorUnits, v%MinorUnits)
}

func (m Money) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(m.Float())
}

func (m *Money) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	return m.set(v)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Float())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return m.set(v)
}

func (m *Money) set(v any) error {
	switch n := v.(type) {
	case nil:
		*m = 0
	case float64:
		*m = FromFloat(n)
	case float32:
		*m = FromFloat(float64(n))
	case uint64:
		*m = Money(int64(n) * MinorUnits)
	case int64:
		*m = Money(n * MinorUnits)
	case string:
		// numeric columns can arrive as text
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return fmt.Errorf("money: %w", err)
		}
		*m = FromFloat(f)
	default:
		return fmt.Errorf("money: unsupported value %T", v)
	}
	return nil
}
