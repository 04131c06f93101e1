package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Amount is a signed 128-bit value. It is immutable; the zero value is 0.
// On the wire it is a decimal string so no precision is lost in JSON.
type Amount struct {
	v *big.Int
}

func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// ParseAmount parses a base-10 integer within the i128 range.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("amount %q is not an integer", s)
	}
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return Amount{}, fmt.Errorf("amount %q is out of the 128-bit range", s)
	}
	return Amount{v: v}, nil
}

// BigInt returns a copy of the underlying value.
func (a Amount) BigInt() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a Amount) Equal(b Amount) bool {
	return a.BigInt().Cmp(b.BigInt()) == 0
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both a quoted decimal string and a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
