package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"MediVault/internal/ledger"
	"MediVault/internal/lottery"
	"MediVault/internal/model"
	"MediVault/internal/pricing"
	"MediVault/internal/repayment"
	"MediVault/internal/vault"
)

// Version is bumped when State changes incompatibly.
const Version = 1

// State is everything needed to resume after a restart.
type State struct {
	Version   int              `json:"version"`
	SavedAt   time.Time        `json:"saved_at"`
	Ledger    ledger.State     `json:"ledger"`
	Vaults    vault.State      `json:"vaults"`
	Schedules repayment.State  `json:"schedules"`
	Lottery   lottery.State    `json:"lottery"`
	Price     model.PriceState `json:"price"`
}

// Components are the stateful services a snapshot covers.
type Components struct {
	Ledger    *ledger.Ledger
	Vaults    *vault.Manager
	Schedules *repayment.Scheduler
	Lottery   *lottery.Service
	Pricing   *pricing.Service
}

// Capture exports every component. Components are exported one after another,
// so a Capture racing a mutation can tear; use Barrier.Capture while serving.
func (c Components) Capture(now time.Time) *State {
	return &State{
		Version:   Version,
		SavedAt:   now,
		Ledger:    c.Ledger.Export(),
		Vaults:    c.Vaults.Export(),
		Schedules: c.Schedules.Export(),
		Lottery:   c.Lottery.Export(),
		Price:     c.Pricing.Export(),
	}
}

// Barrier orders mutations against captures. Any number of mutations may hold it
// at once; a capture waits for them to finish and admits no new ones until done.
type Barrier struct {
	mu sync.RWMutex
}

// Hold admits one mutation; call the returned func when it is complete.
// A nil Barrier admits everything.
func (b *Barrier) Hold() func() {
	if b == nil {
		return func() {}
	}
	b.mu.RLock()
	return b.mu.RUnlock
}

// Capture exports c with no mutation in flight.
func (b *Barrier) Capture(c Components, now time.Time) *State {
	if b == nil {
		return c.Capture(now)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.Capture(now)
}

// Restore loads st into every component, ledger first since the others check against it.
func (c Components) Restore(st *State) error {
	if st.Version != Version {
		return fmt.Errorf("%w: snapshot version %d, want %d", model.ErrInvalidInput, st.Version, Version)
	}
	if err := c.Ledger.Restore(st.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := c.Vaults.Restore(st.Vaults); err != nil {
		return fmt.Errorf("restore vaults: %w", err)
	}
	if err := c.Schedules.Restore(st.Schedules); err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	if err := c.Lottery.Restore(st.Lottery); err != nil {
		return fmt.Errorf("restore lottery: %w", err)
	}
	c.Pricing.Restore(st.Price)
	return nil
}

// Load reads a snapshot file. A missing file yields nil, nil.
func Load(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	return &st, nil
}

// Save writes the snapshot through a temp file so a crash never leaves a torn file.
func Save(filePath string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}
