package repayment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var errBadPerformData = errors.New("perform data is not a uint256[] of vault ids")

var idListArgs = func() abi.Arguments {
	t, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}()

// EncodePerformData packs vault ids the way an automation registry would
// receive them from checkUpkeep.
func EncodePerformData(ids []uint64) ([]byte, error) {
	vals := make([]*big.Int, len(ids))
	for i, id := range ids {
		vals[i] = new(big.Int).SetUint64(id)
	}
	return idListArgs.Pack(vals)
}

// DecodePerformData unpacks a uint256[] id list. Ids that do not fit in 64 bits are rejected.
func DecodePerformData(data []byte) ([]uint64, error) {
	if len(data) == 0 {
		return nil, errBadPerformData
	}
	out, err := idListArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPerformData, err)
	}
	if len(out) != 1 {
		return nil, errBadPerformData
	}
	vals, ok := out[0].([]*big.Int)
	if !ok {
		return nil, errBadPerformData
	}
	ids := make([]uint64, 0, len(vals))
	for _, v := range vals {
		if !v.IsUint64() {
			return nil, fmt.Errorf("%w: id %s out of range", errBadPerformData, v)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}
