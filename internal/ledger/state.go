package ledger

import (
	"fmt"
	"sort"

	"MediVault/internal/model"
)

// AccountState is the persisted form of one vault account.
type AccountState struct {
	VaultID uint64       `json:"vault_id"`
	Target  model.Amount `json:"target"`
	Total   model.Amount `json:"total"`
	Repaid  model.Amount `json:"repaid"`
	Prizes  model.Amount `json:"prizes"`
	// PrizesClaimed is the watermark of prizes already paid to the beneficiary.
	PrizesClaimed model.Amount             `json:"prizes_claimed"`
	Positions     []model.InvestorPosition `json:"positions"`
}

// State is the persisted form of the whole ledger.
type State struct {
	Accounts []AccountState `json:"accounts"`
	Escrow   model.Amount   `json:"escrow"`
}

// Export copies the ledger into its persisted form.
func (l *Ledger) Export() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := State{Escrow: l.escrow}
	for id, acc := range l.accounts {
		as := AccountState{VaultID: id, Target: acc.target, Total: acc.total, Repaid: acc.repaid, Prizes: acc.prizes, PrizesClaimed: acc.prizesClaimed}
		for _, addr := range acc.order {
			as.Positions = append(as.Positions, *acc.positions[addr])
		}
		st.Accounts = append(st.Accounts, as)
	}
	sort.Slice(st.Accounts, func(i, j int) bool { return st.Accounts[i].VaultID < st.Accounts[j].VaultID })
	return st
}

// Restore replaces the ledger contents with st after checking its invariants.
func (l *Ledger) Restore(st State) error {
	accounts := make(map[uint64]*account, len(st.Accounts))
	for _, as := range st.Accounts {
		acc := &account{
			target:        as.Target,
			total:         as.Total,
			repaid:        as.Repaid,
			prizes:        as.Prizes,
			prizesClaimed: as.PrizesClaimed,
			positions:     make(map[model.Address]*model.InvestorPosition, len(as.Positions)),
		}
		for i := range as.Positions {
			pos := as.Positions[i]
			acc.positions[pos.Investor] = &pos
			acc.order = append(acc.order, pos.Investor)
		}
		accounts[as.VaultID] = acc
	}

	l.mu.Lock()
	prevAccounts, prevEscrow := l.accounts, l.escrow
	l.accounts, l.escrow = accounts, st.Escrow
	l.mu.Unlock()

	if err := l.Verify(); err != nil {
		l.mu.Lock()
		l.accounts, l.escrow = prevAccounts, prevEscrow
		l.mu.Unlock()
		return fmt.Errorf("restore ledger: %w", err)
	}
	return nil
}
