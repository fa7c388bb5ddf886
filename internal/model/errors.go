package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that must decide how to surface it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindCapacityExceeded
	KindInvalidStateTransition
	KindUnknownEntity
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case KindInvalidStateTransition:
		return "INVALID_STATE_TRANSITION"
	case KindUnknownEntity:
		return "UNKNOWN_ENTITY"
	case KindForbidden:
		return "FORBIDDEN"
	default:
		return "UNKNOWN"
	}
}

// Error kinds. Every error returned by the core wraps exactly one of these.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnknownEntity          = errors.New("unknown entity")
	ErrForbidden              = errors.New("forbidden")
)

var (
	ErrInvalidTarget  = fmt.Errorf("%w: target amount must be positive", ErrInvalidInput)
	ErrInvalidAmount  = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidTerm    = fmt.Errorf("%w: total months must be positive", ErrInvalidInput)
	ErrInvalidPrice   = fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	ErrAmountOverflow = fmt.Errorf("%w: amount out of range", ErrInvalidInput)

	ErrAlreadyScheduled   = fmt.Errorf("%w: repayment schedule already exists", ErrInvalidStateTransition)
	ErrNotYetFunded       = fmt.Errorf("%w: vault has not reached its target", ErrInvalidStateTransition)
	ErrVaultClosed        = fmt.Errorf("%w: vault is closed", ErrInvalidStateTransition)
	ErrVaultScheduled     = fmt.Errorf("%w: vault closes only when its schedule completes", ErrInvalidStateTransition)
	ErrRoundAlreadyActive = fmt.Errorf("%w: a lottery round is already open", ErrInvalidStateTransition)
	ErrNoOpenRound        = fmt.Errorf("%w: no lottery round is open", ErrInvalidStateTransition)
	ErrRoundResolving     = fmt.Errorf("%w: round is awaiting randomness", ErrInvalidStateTransition)
	ErrAlreadyEntered     = fmt.Errorf("%w: vault already entered this round", ErrInvalidStateTransition)
	ErrNoParticipants     = fmt.Errorf("%w: round has no participants", ErrInvalidStateTransition)
	ErrRandomnessMismatch = fmt.Errorf("%w: randomness does not match the pending request", ErrInvalidStateTransition)
	ErrNotEligible        = fmt.Errorf("%w: vault is not eligible", ErrInvalidStateTransition)

	ErrUnknownVault    = fmt.Errorf("%w: vault not found", ErrUnknownEntity)
	ErrUnknownRound    = fmt.Errorf("%w: lottery round not found", ErrUnknownEntity)
	ErrUnknownSchedule = fmt.Errorf("%w: repayment schedule not found", ErrUnknownEntity)
	ErrUnknownPosition = fmt.Errorf("%w: investor position not found", ErrUnknownEntity)

	ErrNotBeneficiary = fmt.Errorf("%w: caller is not the vault beneficiary", ErrForbidden)
	ErrNotClaimant    = fmt.Errorf("%w: caller has nothing to claim in this vault", ErrForbidden)
	ErrNotOracle      = fmt.Errorf("%w: caller is not the price oracle", ErrForbidden)
	ErrNotOperator    = fmt.Errorf("%w: caller is not the lottery operator", ErrForbidden)
)

// KindOf reports the kind wrapped by err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrInvalidStateTransition):
		return KindInvalidStateTransition
	case errors.Is(err, ErrUnknownEntity):
		return KindUnknownEntity
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindUnknown
	}
}
