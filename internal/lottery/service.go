package lottery

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"MediVault/internal/event"
	"MediVault/internal/model"
)

// Vaults resolves entrants.
type Vaults interface {
	Get(vaultID uint64) (model.Vault, error)
}

// Treasury moves entry fees and prizes.
type Treasury interface {
	CollectFee(payer model.Address, amount model.Amount) error
	AwardPrize(vaultID uint64, amount model.Amount) error
}

// Service runs one round at a time: Open, then Resolving once randomness is
// requested, then Resolved. Participants are kept in entry order.
type Service struct {
	mu          sync.Mutex
	rounds      []*model.LotteryRound
	nextRequest uint64

	entryFee model.Amount
	vaults   Vaults
	treasury Treasury
	clock    model.Clock
	events   event.Emitter
	logger   *zap.Logger
}

// NewService creates a lottery with a fixed entry fee.
func NewService(entryFee model.Amount, vaults Vaults, treasury Treasury, clock model.Clock, events event.Emitter, logger *zap.Logger) *Service {
	return &Service{
		entryFee: entryFee,
		vaults:   vaults,
		treasury: treasury,
		clock:    clock,
		events:   events,
		logger:   logger.Named("lottery"),
	}
}

// StartRound opens a new round. It fails while another round is unresolved.
func (s *Service) StartRound() (model.LotteryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current(); cur != nil && cur.Status != model.RoundResolved {
		return model.LotteryRound{}, fmt.Errorf("round %d: %w", cur.ID, model.ErrRoundAlreadyActive)
	}
	r := &model.LotteryRound{
		ID:           uint64(len(s.rounds)) + 1,
		Status:       model.RoundOpen,
		Participants: []uint64{},
		IsActive:     true,
		StartedAt:    s.clock.Now(),
	}
	s.rounds = append(s.rounds, r)

	s.logger.Info("round started", zap.Uint64("round_id", r.ID))
	s.emit(model.EventRoundStarted, r, 0)
	return r.Clone(), nil
}

// Enter charges the entry fee to payer and adds vaultID to the open round.
// The fee and the entry are applied together or not at all.
func (s *Service) Enter(vaultID uint64, payer model.Address) (model.LotteryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.openRound()
	if err != nil {
		return model.LotteryRound{}, err
	}
	if ok, reason := s.eligible(r, vaultID); !ok {
		if r.HasParticipant(vaultID) {
			return model.LotteryRound{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrAlreadyEntered)
		}
		if _, err := s.vaults.Get(vaultID); err != nil {
			return model.LotteryRound{}, err
		}
		return model.LotteryRound{}, fmt.Errorf("vault %d: %s: %w", vaultID, reason, model.ErrNotEligible)
	}
	pool, ok := r.PrizePool.Add(s.entryFee)
	if !ok {
		return model.LotteryRound{}, fmt.Errorf("round %d: %w", r.ID, model.ErrAmountOverflow)
	}
	if err := s.treasury.CollectFee(payer, s.entryFee); err != nil {
		return model.LotteryRound{}, fmt.Errorf("collect entry fee: %w", err)
	}
	r.Participants = append(r.Participants, vaultID)
	r.PrizePool = pool

	s.logger.Info("vault entered",
		zap.Uint64("round_id", r.ID),
		zap.Uint64("vault_id", vaultID),
		zap.Int("participants", len(r.Participants)))
	s.emit(model.EventRoundEntered, r, vaultID)
	return r.Clone(), nil
}

// RequestRandomness closes the open round to entries and returns the request id
// that FulfillRandomness must answer.
func (s *Service) RequestRandomness() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.openRound()
	if err != nil {
		return 0, err
	}
	if len(r.Participants) == 0 {
		return 0, fmt.Errorf("round %d: %w", r.ID, model.ErrNoParticipants)
	}
	s.nextRequest++
	r.RequestID = s.nextRequest
	r.Status = model.RoundResolving

	s.logger.Info("randomness requested", zap.Uint64("round_id", r.ID), zap.Uint64("request_id", r.RequestID))
	s.emit(model.EventRandomnessRequested, r, 0)
	return r.RequestID, nil
}

// FulfillRandomness resolves the round waiting on requestID.
func (s *Service) FulfillRandomness(requestID uint64, value *uint256.Int) (model.LotteryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current()
	if r == nil || r.Status != model.RoundResolving || r.RequestID != requestID {
		return model.LotteryRound{}, fmt.Errorf("request %d: %w", requestID, model.ErrRandomnessMismatch)
	}
	return s.resolve(r, value)
}

// ResolveRound picks the winner of the current round directly from value.
func (s *Service) ResolveRound(value *uint256.Int) (model.LotteryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current()
	if r == nil || r.Status == model.RoundResolved {
		return model.LotteryRound{}, model.ErrNoOpenRound
	}
	return s.resolve(r, value)
}

// resolve selects Participants[value mod n] and pays the prize pool to it.
func (s *Service) resolve(r *model.LotteryRound, value *uint256.Int) (model.LotteryRound, error) {
	if value == nil {
		return model.LotteryRound{}, fmt.Errorf("%w: random value is required", model.ErrInvalidInput)
	}
	n := len(r.Participants)
	if n == 0 {
		return model.LotteryRound{}, fmt.Errorf("round %d: %w", r.ID, model.ErrNoParticipants)
	}
	idx := new(uint256.Int).Mod(value, uint256.NewInt(uint64(n))).Uint64()
	winner := r.Participants[idx]

	if err := s.treasury.AwardPrize(winner, r.PrizePool); err != nil {
		return model.LotteryRound{}, fmt.Errorf("award prize: %w", err)
	}
	r.Winner = winner
	r.RandomValue = value.Dec()
	r.Status = model.RoundResolved
	r.IsActive = false
	r.ResolvedAt = s.clock.Now()

	s.logger.Info("round resolved",
		zap.Uint64("round_id", r.ID),
		zap.Uint64("winner", winner),
		zap.Uint64("prize", uint64(r.PrizePool)))
	s.emit(model.EventRoundResolved, r, winner)
	return r.Clone(), nil
}

// CanParticipate reports whether vaultID may enter the open round now, with a reason when it may not.
func (s *Service) CanParticipate(vaultID uint64) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRound()
	if err != nil {
		return false, "no open round"
	}
	return s.eligible(r, vaultID)
}

func (s *Service) eligible(r *model.LotteryRound, vaultID uint64) (bool, string) {
	if r.HasParticipant(vaultID) {
		return false, "already entered"
	}
	v, err := s.vaults.Get(vaultID)
	if err != nil {
		return false, "unknown vault"
	}
	if v.Status == model.VaultClosed {
		return false, "vault is closed"
	}
	return true, ""
}

// Current returns the most recent round.
func (s *Service) Current() (model.LotteryRound, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.current()
	if r == nil {
		return model.LotteryRound{}, false
	}
	return r.Clone(), true
}

// Round returns a round by id.
func (s *Service) Round(roundID uint64) (model.LotteryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roundID == 0 || roundID > uint64(len(s.rounds)) {
		return model.LotteryRound{}, fmt.Errorf("round %d: %w", roundID, model.ErrUnknownRound)
	}
	return s.rounds[roundID-1].Clone(), nil
}

// Participants returns a round's entrants in entry order.
func (s *Service) Participants(roundID uint64) ([]uint64, error) {
	r, err := s.Round(roundID)
	if err != nil {
		return nil, err
	}
	return r.Participants, nil
}

// EntryFee is the fixed price of one entry.
func (s *Service) EntryFee() model.Amount { return s.entryFee }

// TotalPrizePool sums the prize pools of every round so far.
func (s *Service) TotalPrizePool() model.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total model.Amount
	for _, r := range s.rounds {
		total += r.PrizePool
	}
	return total
}

func (s *Service) current() *model.LotteryRound {
	if len(s.rounds) == 0 {
		return nil
	}
	return s.rounds[len(s.rounds)-1]
}

func (s *Service) openRound() (*model.LotteryRound, error) {
	r := s.current()
	switch {
	case r == nil || r.Status == model.RoundResolved:
		return nil, model.ErrNoOpenRound
	case r.Status == model.RoundResolving:
		return nil, fmt.Errorf("round %d: %w", r.ID, model.ErrRoundResolving)
	}
	return r, nil
}

func (s *Service) emit(t model.EventType, r *model.LotteryRound, vaultID uint64) {
	evt := model.NewEvent(t, s.clock.Now())
	evt.RoundID = r.ID
	evt.VaultID = vaultID
	evt.Amount = r.PrizePool
	snap := r.Clone()
	evt.Round = &snap
	s.events.Emit(evt)
}
