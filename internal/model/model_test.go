package model

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{fmt.Errorf("plain"), KindUnknown},
		{ErrInvalidTarget, KindInvalidInput},
		{fmt.Errorf("vault 3: %w", ErrUnknownVault), KindUnknownEntity},
		{fmt.Errorf("vault 3: %w", ErrCapacityExceeded), KindCapacityExceeded},
		{ErrAlreadyEntered, KindInvalidStateTransition},
		{ErrRandomnessMismatch, KindInvalidStateTransition},
		{fmt.Errorf("vault 3: %w", ErrNotBeneficiary), KindForbidden},
		{ErrNotOracle, KindForbidden},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, KindOf(c.err), "%v", c.err)
	}
	assert.Equal(t, "INVALID_STATE_TRANSITION", KindInvalidStateTransition.String())
	assert.Equal(t, "FORBIDDEN", KindForbidden.String())
}

func TestAmountArithmetic(t *testing.T) {
	s, ok := Amount(^uint64(0)).Add(1)
	assert.False(t, ok)
	assert.Equal(t, Amount(0), s)

	d, ok := Amount(5).Sub(7)
	assert.False(t, ok)
	assert.Equal(t, Amount(0), d)

	d, ok = Amount(7).Sub(5)
	assert.True(t, ok)
	assert.Equal(t, Amount(2), d)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000a11ce ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa11ce"), addr)

	_, err = ParseAddress("alice")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScheduleStatus(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := RepaymentSchedule{
		MonthlyAmount:  4,
		TotalOwed:      10,
		TotalPaid:      8,
		Period:         time.Hour,
		NextPaymentDue: due,
		IsActive:       true,
	}
	assert.Equal(t, ScheduleCurrent, s.Status(due.Add(-time.Second)))
	assert.Equal(t, ScheduleDue, s.Status(due))
	assert.Equal(t, ScheduleOverdue, s.Status(due.Add(time.Hour)))
	assert.True(t, s.Due(due))
	assert.Equal(t, Amount(2), s.NextInstallment())

	s.IsActive = false
	assert.Equal(t, ScheduleExhausted, s.Status(due))
	assert.False(t, s.Due(due))
}

func TestVaultStatusRank(t *testing.T) {
	order := []VaultStatus{VaultCreated, VaultFunding, VaultFunded, VaultActive, VaultClosed}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
	assert.Equal(t, -1, VaultStatus("BOGUS").Rank())
}

func TestLotteryRoundClone(t *testing.T) {
	r := LotteryRound{ID: 1, Participants: []uint64{1, 2}}
	c := r.Clone()
	c.Participants[0] = 9
	assert.Equal(t, uint64(1), r.Participants[0])
	assert.True(t, r.HasParticipant(2))
	assert.False(t, r.HasParticipant(9))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestUnsetTimestampsAreZeroOnTheWire(t *testing.T) {
	v := Vault{ID: 1, Status: VaultCreated, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "0001-01-01T00:00:00Z", fields["funded_at"])

	var back Vault
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.FundedAt.IsZero())
	assert.True(t, back.ClosedAt.IsZero())
	assert.Equal(t, v.CreatedAt, back.CreatedAt)
}
