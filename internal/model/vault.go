package model

import "time"

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	VaultCreated VaultStatus = "CREATED"
	VaultFunding VaultStatus = "FUNDING"
	VaultFunded  VaultStatus = "FUNDED"
	VaultActive  VaultStatus = "ACTIVE"
	VaultClosed  VaultStatus = "CLOSED"
)

// Rank orders statuses along the lifecycle; transitions never decrease it.
func (s VaultStatus) Rank() int {
	switch s {
	case VaultCreated:
		return 0
	case VaultFunding:
		return 1
	case VaultFunded:
		return 2
	case VaultActive:
		return 3
	case VaultClosed:
		return 4
	default:
		return -1
	}
}

// Vault is one funding campaign for one beneficiary.
// Vault IDs start at 1; zero never names a vault.
type Vault struct {
	ID             uint64      `json:"id"`
	Beneficiary    Address     `json:"beneficiary"`
	TargetAmount   Amount      `json:"target_amount"`
	TotalDeposited Amount      `json:"total_deposited"`
	EducationTrack string      `json:"education_track"`
	Status         VaultStatus `json:"status"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
	FundedAt       time.Time   `json:"funded_at"`
	ClosedAt       time.Time   `json:"closed_at"`
}

// Remaining returns the capacity left before the vault reaches its target.
func (v Vault) Remaining() Amount {
	r, _ := v.TargetAmount.Sub(v.TotalDeposited)
	return r
}

// InvestorPosition is the running total one investor has put into one vault.
type InvestorPosition struct {
	VaultID         uint64    `json:"vault_id"`
	Investor        Address   `json:"investor"`
	AmountDeposited Amount    `json:"amount_deposited"`
	Repaid          Amount    `json:"repaid"`
	Claimed         Amount    `json:"claimed"`
	Deposits        uint32    `json:"deposits"`
	FirstDepositAt  time.Time `json:"first_deposit_at"`
	LastDepositAt   time.Time `json:"last_deposit_at"`
	LastReturnAt    time.Time `json:"last_return_at"`
	LastClaimAt     time.Time `json:"last_claim_at"`
}

// Claimable is what the investor has been repaid but not yet claimed.
func (p InvestorPosition) Claimable() Amount {
	c, _ := p.Repaid.Sub(p.Claimed)
	return c
}
