package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Amount is a quantity in the smallest currency unit (1 USDC = 1_000000).
type Amount uint64

// Add returns a+b and reports whether the sum fits.
func (a Amount) Add(b Amount) (Amount, bool) {
	s := a + b
	return s, s >= a
}

// Sub returns a-b and reports whether b <= a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Address is the opaque authenticated identity of a beneficiary or investor.
type Address = common.Address

// ParseAddress validates and parses a hex encoded identity.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: malformed address %q", ErrInvalidInput, s)
	}
	addr := common.HexToAddress(s)
	if addr == (Address{}) {
		return Address{}, fmt.Errorf("%w: zero address", ErrInvalidInput)
	}
	return addr, nil
}
