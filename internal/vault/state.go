package vault

import (
	"fmt"
	"sort"

	"MediVault/internal/model"
)

// State is the persisted form of the Manager.
type State struct {
	NextID uint64        `json:"next_id"`
	Vaults []model.Vault `json:"vaults"`
}

// Export returns a copy of every vault and the id counter.
func (m *Manager) Export() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{NextID: m.nextID, Vaults: make([]model.Vault, 0, len(m.vaults))}
	for _, v := range m.vaults {
		st.Vaults = append(st.Vaults, m.view(v))
	}
	sort.Slice(st.Vaults, func(i, j int) bool { return st.Vaults[i].ID < st.Vaults[j].ID })
	return st
}

// Restore replaces the Manager's vaults. The ledger must already hold matching accounts.
func (m *Manager) Restore(st State) error {
	vaults := make(map[uint64]*model.Vault, len(st.Vaults))
	for i := range st.Vaults {
		v := st.Vaults[i]
		if v.ID == 0 || v.ID > st.NextID {
			return fmt.Errorf("%w: vault id %d outside counter %d", model.ErrInvalidInput, v.ID, st.NextID)
		}
		if _, dup := vaults[v.ID]; dup {
			return fmt.Errorf("%w: duplicate vault %d", model.ErrInvalidInput, v.ID)
		}
		total, target, err := m.ledger.Balance(v.ID)
		if err != nil {
			return fmt.Errorf("restore vault %d: %w", v.ID, err)
		}
		if target != v.TargetAmount {
			return fmt.Errorf("%w: vault %d target %d, ledger %d", model.ErrInvalidInput, v.ID, v.TargetAmount, target)
		}
		if v.Status.Rank() >= model.VaultFunded.Rank() && v.Status != model.VaultClosed && total != target {
			return fmt.Errorf("%w: vault %d is %s with %d of %d", model.ErrInvalidInput, v.ID, v.Status, total, target)
		}
		vaults[v.ID] = &v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaults = vaults
	m.nextID = st.NextID
	return nil
}
