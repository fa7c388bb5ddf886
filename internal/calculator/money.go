package calculator

import (
	"errors"

	"github.com/holiman/uint256"

	"MediVault/internal/model"
)

var (
	errZeroDivisor = errors.New("divisor must be positive")
	errOverflow    = errors.New("result does not fit in an amount")
)

// CeilDiv returns ceil(total / n).
func CeilDiv(total model.Amount, n uint64) (model.Amount, error) {
	if n == 0 {
		return 0, errZeroDivisor
	}
	q := uint64(total) / n
	if uint64(total)%n != 0 {
		q++
	}
	return model.Amount(q), nil
}

// MulDivFloor returns floor(x*num/den), so the result never exceeds the exact product.
// The product is computed in 256 bits so it cannot wrap.
func MulDivFloor(x model.Amount, num, den uint64) (model.Amount, error) {
	if den == 0 {
		return 0, errZeroDivisor
	}
	q := new(uint256.Int).Mul(uint256.NewInt(uint64(x)), uint256.NewInt(num))
	q.Div(q, uint256.NewInt(den))
	if !q.IsUint64() {
		return 0, errOverflow
	}
	return model.Amount(q.Uint64()), nil
}

// ProRata splits total across weights in proportion, rounding each share down.
// The rounding remainder goes to the first non-zero weight so shares sum to total.
func ProRata(total model.Amount, weights []model.Amount) ([]model.Amount, error) {
	sum := new(uint256.Int)
	for _, w := range weights {
		sum.AddUint64(sum, uint64(w))
	}
	if sum.IsZero() {
		return nil, errors.New("weights sum to zero")
	}

	shares := make([]model.Amount, len(weights))
	var assigned uint64
	first := -1
	t := uint256.NewInt(uint64(total))
	for i, w := range weights {
		if w == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		share := new(uint256.Int).Mul(t, uint256.NewInt(uint64(w)))
		share.Div(share, sum)
		shares[i] = model.Amount(share.Uint64())
		assigned += share.Uint64()
	}
	shares[first] += total - model.Amount(assigned)
	return shares, nil
}
