package ledger

import (
	"fmt"
	"sort"
	"sync"

	"MediVault/internal/calculator"
	"MediVault/internal/model"
)

type account struct {
	target        model.Amount
	total         model.Amount
	repaid        model.Amount
	prizes        model.Amount
	prizesClaimed model.Amount
	positions     map[model.Address]*model.InvestorPosition
	order         []model.Address
}

// Ledger is the exact-integer book of vault totals and investor positions.
// It is the only place totalDeposited and amountDeposited change.
type Ledger struct {
	mu       sync.Mutex
	accounts map[uint64]*account
	escrow   model.Amount
	clock    model.Clock
}

// Receipt describes one applied deposit.
type Receipt struct {
	VaultID  uint64
	Investor model.Address
	Amount   model.Amount
	Before   model.Amount
	After    model.Amount
	Target   model.Amount
	Position model.InvestorPosition
}

// Opened reports whether this deposit was the first into the vault.
func (r Receipt) Opened() bool { return r.Before == 0 }

// Filled reports whether this deposit brought the vault to its target.
func (r Receipt) Filled() bool { return r.After == r.Target }

// New creates an empty Ledger.
func New(clock model.Clock) *Ledger {
	return &Ledger{accounts: make(map[uint64]*account), clock: clock}
}

// OpenAccount registers a vault with its immutable target.
func (l *Ledger) OpenAccount(vaultID uint64, target model.Amount) error {
	if target == 0 {
		return model.ErrInvalidTarget
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[vaultID]; ok {
		return fmt.Errorf("%w: ledger account %d already open", model.ErrInvalidStateTransition, vaultID)
	}
	l.accounts[vaultID] = &account{
		target:    target,
		positions: make(map[model.Address]*model.InvestorPosition),
	}
	return nil
}

// RecordDeposit credits amount to both the vault total and the investor position,
// or changes nothing and returns an error.
func (l *Ledger) RecordDeposit(vaultID uint64, investor model.Address, amount model.Amount) (Receipt, error) {
	if amount == 0 {
		return Receipt{}, model.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[vaultID]
	if !ok {
		return Receipt{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	after, ok := acc.total.Add(amount)
	if !ok || after > acc.target {
		return Receipt{}, fmt.Errorf("vault %d: deposit %d exceeds remaining capacity %d: %w",
			vaultID, amount, acc.target-acc.total, model.ErrCapacityExceeded)
	}

	now := l.clock.Now()
	pos, ok := acc.positions[investor]
	if !ok {
		pos = &model.InvestorPosition{VaultID: vaultID, Investor: investor, FirstDepositAt: now}
		acc.positions[investor] = pos
		acc.order = append(acc.order, investor)
	}
	// Cannot overflow: the position is bounded by the vault total.
	pos.AmountDeposited += amount
	pos.Deposits++
	pos.LastDepositAt = now

	r := Receipt{
		VaultID:  vaultID,
		Investor: investor,
		Amount:   amount,
		Before:   acc.total,
		After:    after,
		Target:   acc.target,
		Position: *pos,
	}
	acc.total = after
	return r, nil
}

// RemainingCapacity returns target - total for the vault.
func (l *Ledger) RemainingCapacity(vaultID uint64) (model.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return 0, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	return acc.target - acc.total, nil
}

// Balance returns the deposited total and the target of a vault.
func (l *Ledger) Balance(vaultID uint64) (total, target model.Amount, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return 0, 0, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	return acc.total, acc.target, nil
}

// Position returns one investor's position in a vault.
func (l *Ledger) Position(vaultID uint64, investor model.Address) (model.InvestorPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return model.InvestorPosition{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	pos, ok := acc.positions[investor]
	if !ok {
		return model.InvestorPosition{}, fmt.Errorf("vault %d investor %s: %w", vaultID, investor.Hex(), model.ErrUnknownPosition)
	}
	return *pos, nil
}

// Investors returns every position of a vault in first-deposit order.
func (l *Ledger) Investors(vaultID uint64) ([]model.InvestorPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	out := make([]model.InvestorPosition, 0, len(acc.order))
	for _, addr := range acc.order {
		out = append(out, *acc.positions[addr])
	}
	return out, nil
}

// CreditRepayment splits one processed installment across the vault's investors
// in proportion to what each deposited.
func (l *Ledger) CreditRepayment(vaultID uint64, amount model.Amount) ([]model.InvestorPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	if amount == 0 {
		return nil, nil
	}
	repaid, ok := acc.repaid.Add(amount)
	if !ok {
		return nil, fmt.Errorf("vault %d: %w", vaultID, model.ErrAmountOverflow)
	}

	weights := make([]model.Amount, len(acc.order))
	for i, addr := range acc.order {
		weights[i] = acc.positions[addr].AmountDeposited
	}
	shares, err := calculator.ProRata(amount, weights)
	if err != nil {
		return nil, fmt.Errorf("vault %d: %w: %v", vaultID, model.ErrInvalidInput, err)
	}

	now := l.clock.Now()
	out := make([]model.InvestorPosition, len(acc.order))
	for i, addr := range acc.order {
		pos := acc.positions[addr]
		pos.Repaid += shares[i]
		if shares[i] > 0 {
			pos.LastReturnAt = now
		}
		out[i] = *pos
	}
	acc.repaid = repaid
	return out, nil
}

// CollectFee moves an entry fee paid by payer into the prize escrow.
func (l *Ledger) CollectFee(payer model.Address, amount model.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	escrow, ok := l.escrow.Add(amount)
	if !ok {
		return fmt.Errorf("fee from %s: %w", payer.Hex(), model.ErrAmountOverflow)
	}
	l.escrow = escrow
	return nil
}

// AwardPrize pays amount out of the escrow to a vault's prize balance.
func (l *Ledger) AwardPrize(vaultID uint64, amount model.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	escrow, ok := l.escrow.Sub(amount)
	if !ok {
		return fmt.Errorf("prize %d exceeds escrow %d: %w", amount, l.escrow, model.ErrInvalidInput)
	}
	prizes, ok := acc.prizes.Add(amount)
	if !ok {
		return fmt.Errorf("vault %d: %w", vaultID, model.ErrAmountOverflow)
	}
	l.escrow = escrow
	acc.prizes = prizes
	return nil
}

// Escrow returns the entry fees held for unresolved rounds.
func (l *Ledger) Escrow() model.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow
}

// Prizes returns the lottery winnings credited to a vault and not yet claimed.
func (l *Ledger) Prizes(vaultID uint64) (model.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return 0, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	unclaimed, _ := acc.prizes.Sub(acc.prizesClaimed)
	return unclaimed, nil
}

// ClaimReturns pays out everything repaid to investor since the last claim and
// moves the claimed watermark up to the repaid total. A second claim with no
// new repayment in between pays zero.
func (l *Ledger) ClaimReturns(vaultID uint64, investor model.Address) (model.InvestorPosition, model.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return model.InvestorPosition{}, 0, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	pos, ok := acc.positions[investor]
	if !ok {
		return model.InvestorPosition{}, 0, fmt.Errorf("vault %d investor %s: %w", vaultID, investor.Hex(), model.ErrUnknownPosition)
	}
	amount := pos.Claimable()
	if amount > 0 {
		pos.Claimed = pos.Repaid
		pos.LastClaimAt = l.clock.Now()
	}
	return *pos, amount, nil
}

// ClaimPrize pays out the vault's unclaimed lottery winnings.
func (l *Ledger) ClaimPrize(vaultID uint64) (model.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[vaultID]
	if !ok {
		return 0, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	amount, _ := acc.prizes.Sub(acc.prizesClaimed)
	acc.prizesClaimed = acc.prizes
	return amount, nil
}

// Verify checks conservation and capacity for every account.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uint64, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		acc := l.accounts[id]
		if acc.total > acc.target {
			return fmt.Errorf("vault %d: total %d above target %d", id, acc.total, acc.target)
		}
		var deposited, repaid model.Amount
		for _, addr := range acc.order {
			pos := acc.positions[addr]
			deposited += pos.AmountDeposited
			repaid += pos.Repaid
			if pos.Claimed > pos.Repaid {
				return fmt.Errorf("vault %d investor %s: claimed %d above repaid %d", id, addr.Hex(), pos.Claimed, pos.Repaid)
			}
		}
		if deposited != acc.total {
			return fmt.Errorf("vault %d: positions sum to %d, total is %d", id, deposited, acc.total)
		}
		if repaid != acc.repaid {
			return fmt.Errorf("vault %d: repayment credits sum to %d, recorded %d", id, repaid, acc.repaid)
		}
		if acc.prizesClaimed > acc.prizes {
			return fmt.Errorf("vault %d: prizes claimed %d above awarded %d", id, acc.prizesClaimed, acc.prizes)
		}
	}
	return nil
}
