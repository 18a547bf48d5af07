// Copyright 2025 Certen Protocol

package store

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// U256 adapts *big.Int to scan from and write to a NUMERIC(78,0) column,
// the same precision the original schema uses for 256-bit amounts,
// nonces, and transfer IDs.
type U256 struct {
	*big.Int
}

func NewU256(v *big.Int) U256 {
	return U256{Int: v}
}

func (u U256) Value() (driver.Value, error) {
	if u.Int == nil {
		return nil, nil
	}
	return u.Int.String(), nil
}

func (u *U256) Scan(src interface{}) error {
	if src == nil {
		u.Int = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("store: cannot scan %T into U256", src)
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("store: invalid numeric value %q", s)
	}
	u.Int = value
	return nil
}
