package vault

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"MediVault/internal/event"
	"MediVault/internal/ledger"
	"MediVault/internal/model"
)

// Scaler converts a requested investment into the amount to record.
type Scaler interface {
	Scale(base model.Amount) (model.Amount, uint64, error)
}

// Manager owns vault lifecycle state and authorizes every deposit against the Ledger.
type Manager struct {
	mu     sync.Mutex
	vaults map[uint64]*model.Vault
	nextID uint64
	ledger *ledger.Ledger
	scaler Scaler
	clock  model.Clock
	events event.Emitter
	logger *zap.Logger
}

// Investment is the outcome of one accepted invest call.
type Investment struct {
	Requested  model.Amount           `json:"requested"`
	Credited   model.Amount           `json:"credited"`
	Multiplier uint64                 `json:"multiplier"`
	Vault      model.Vault            `json:"vault"`
	Position   model.InvestorPosition `json:"position"`
}

// Claim is the outcome of one claim call. Returns is paid from the caller's
// repayment credits and Prize from the vault's lottery winnings when the caller
// is the beneficiary.
type Claim struct {
	VaultID  uint64                  `json:"vault_id"`
	Claimant model.Address           `json:"claimant"`
	Returns  model.Amount            `json:"returns"`
	Prize    model.Amount            `json:"prize"`
	Position *model.InvestorPosition `json:"position,omitempty"`
}

// Total is the amount paid out by the claim.
func (c Claim) Total() model.Amount { return c.Returns + c.Prize }

// NewManager creates a Manager with no vaults.
func NewManager(l *ledger.Ledger, scaler Scaler, clock model.Clock, events event.Emitter, logger *zap.Logger) *Manager {
	return &Manager{
		vaults: make(map[uint64]*model.Vault),
		ledger: l,
		scaler: scaler,
		clock:  clock,
		events: events,
		logger: logger.Named("vault"),
	}
}

// CreateVault opens a new funding campaign and returns it.
func (m *Manager) CreateVault(beneficiary model.Address, target model.Amount, track string) (model.Vault, error) {
	if target == 0 {
		return model.Vault{}, model.ErrInvalidTarget
	}
	if beneficiary == (model.Address{}) {
		return model.Vault{}, fmt.Errorf("%w: beneficiary is required", model.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID + 1
	if err := m.ledger.OpenAccount(id, target); err != nil {
		return model.Vault{}, fmt.Errorf("open ledger account: %w", err)
	}
	m.nextID = id
	v := &model.Vault{
		ID:             id,
		Beneficiary:    beneficiary,
		TargetAmount:   target,
		EducationTrack: track,
		Status:         model.VaultCreated,
		IsActive:       true,
		CreatedAt:      m.clock.Now(),
	}
	m.vaults[id] = v

	m.logger.Info("vault created",
		zap.Uint64("vault_id", id),
		zap.String("beneficiary", beneficiary.Hex()),
		zap.Uint64("target", uint64(target)))
	m.emit(model.EventVaultCreated, *v)
	return *v, nil
}

// Invest scales requested by the current price multiplier and records the result.
// A scaled amount above the remaining capacity is rejected, never truncated.
func (m *Manager) Invest(vaultID uint64, investor model.Address, requested model.Amount) (Investment, error) {
	if requested == 0 {
		return Investment{}, model.ErrInvalidAmount
	}
	if investor == (model.Address{}) {
		return Investment{}, fmt.Errorf("%w: investor is required", model.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vaults[vaultID]
	if !ok {
		return Investment{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	if v.Status == model.VaultClosed {
		return Investment{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrVaultClosed)
	}

	credited, multiplier, err := m.scaler.Scale(requested)
	if err != nil {
		return Investment{}, fmt.Errorf("vault %d: %w", vaultID, err)
	}
	if credited == 0 {
		return Investment{}, fmt.Errorf("vault %d: scaled amount is zero: %w", vaultID, model.ErrInvalidAmount)
	}

	receipt, err := m.ledger.RecordDeposit(vaultID, investor, credited)
	if err != nil {
		return Investment{}, err
	}

	if receipt.Opened() && v.Status == model.VaultCreated {
		v.Status = model.VaultFunding
		m.emit(model.EventVaultFunding, m.view(v))
	}
	pos := receipt.Position
	deposited := model.NewEvent(model.EventVaultDeposited, m.clock.Now())
	deposited.VaultID = vaultID
	deposited.Amount = credited
	view := m.view(v)
	deposited.Vault = &view
	deposited.Position = &pos
	m.events.Emit(deposited)
	if receipt.Filled() && v.Status == model.VaultFunding {
		v.Status = model.VaultFunded
		v.FundedAt = m.clock.Now()
		m.logger.Info("vault funded", zap.Uint64("vault_id", vaultID), zap.Uint64("total", uint64(receipt.After)))
		m.emit(model.EventVaultFunded, m.view(v))
	}

	m.logger.Debug("deposit recorded",
		zap.Uint64("vault_id", vaultID),
		zap.String("investor", investor.Hex()),
		zap.Uint64("requested", uint64(requested)),
		zap.Uint64("credited", uint64(credited)),
		zap.Uint64("multiplier", multiplier))

	return Investment{
		Requested:  requested,
		Credited:   credited,
		Multiplier: multiplier,
		Vault:      m.view(v),
		Position:   pos,
	}, nil
}

// Get returns a vault with its current deposited total.
func (m *Manager) Get(vaultID uint64) (model.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	return m.view(v), nil
}

// List returns every vault ordered by id.
func (m *Manager) List() []model.Vault {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Vault, 0, len(m.vaults))
	for _, v := range m.vaults {
		out = append(out, m.view(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Activate moves a funded vault to Active. It is called once, by schedule creation.
func (m *Manager) Activate(vaultID uint64) (model.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	switch v.Status {
	case model.VaultFunded:
	case model.VaultActive:
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrAlreadyScheduled)
	case model.VaultClosed:
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrVaultClosed)
	default:
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrNotYetFunded)
	}
	v.Status = model.VaultActive
	m.logger.Info("vault active", zap.Uint64("vault_id", vaultID))
	m.emit(model.EventVaultActive, m.view(v))
	return m.view(v), nil
}

// Complete closes an Active vault whose repayment schedule is exhausted.
func (m *Manager) Complete(vaultID uint64) (model.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	if v.Status != model.VaultActive {
		return model.Vault{}, fmt.Errorf("vault %d is %s: %w", vaultID, v.Status, model.ErrInvalidStateTransition)
	}
	m.closeLocked(v, "repayment complete")
	return m.view(v), nil
}

// Close administratively closes a vault that has no repayment schedule.
func (m *Manager) Close(vaultID uint64) (model.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}
	switch v.Status {
	case model.VaultClosed:
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrVaultClosed)
	case model.VaultActive:
		return model.Vault{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrVaultScheduled)
	}
	m.closeLocked(v, "administrative")
	return m.view(v), nil
}

// Claim pays out everything owed to caller in a vault that has not been paid
// before: repayment credits on its position and, for the beneficiary, unclaimed
// lottery prizes. Claiming again without new credits pays zero.
func (m *Manager) Claim(vaultID uint64, caller model.Address) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return Claim{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownVault)
	}

	out := Claim{VaultID: vaultID, Claimant: caller}
	pos, returns, err := m.ledger.ClaimReturns(vaultID, caller)
	switch {
	case err == nil:
		out.Returns = returns
		out.Position = &pos
	case errors.Is(err, model.ErrUnknownPosition):
		if v.Beneficiary != caller {
			return Claim{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrNotClaimant)
		}
	default:
		return Claim{}, fmt.Errorf("claim returns: %w", err)
	}
	if v.Beneficiary == caller {
		if out.Prize, err = m.ledger.ClaimPrize(vaultID); err != nil {
			return Claim{}, fmt.Errorf("claim prize: %w", err)
		}
	}

	now := m.clock.Now()
	if out.Returns > 0 {
		evt := model.NewEvent(model.EventReturnsClaimed, now)
		evt.VaultID = vaultID
		evt.Amount = out.Returns
		evt.Position = out.Position
		m.events.Emit(evt)
	}
	if out.Prize > 0 {
		evt := model.NewEvent(model.EventPrizeClaimed, now)
		evt.VaultID = vaultID
		evt.Amount = out.Prize
		m.events.Emit(evt)
	}
	m.logger.Info("claim paid",
		zap.Uint64("vault_id", vaultID),
		zap.String("claimant", caller.Hex()),
		zap.Uint64("returns", uint64(out.Returns)),
		zap.Uint64("prize", uint64(out.Prize)))
	return out, nil
}

func (m *Manager) closeLocked(v *model.Vault, reason string) {
	v.Status = model.VaultClosed
	v.IsActive = false
	v.ClosedAt = m.clock.Now()
	m.logger.Info("vault closed", zap.Uint64("vault_id", v.ID), zap.String("reason", reason))
	m.emit(model.EventVaultClosed, m.view(v))
}

// view copies v and fills in the ledger total.
func (m *Manager) view(v *model.Vault) model.Vault {
	out := *v
	if total, _, err := m.ledger.Balance(v.ID); err == nil {
		out.TotalDeposited = total
	}
	return out
}

func (m *Manager) emit(t model.EventType, v model.Vault) {
	evt := model.NewEvent(t, m.clock.Now())
	evt.VaultID = v.ID
	evt.Vault = &v
	m.events.Emit(evt)
}
