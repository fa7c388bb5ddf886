package lottery

import (
	"fmt"

	"MediVault/internal/model"
)

// State is the persisted form of the lottery.
type State struct {
	Rounds      []model.LotteryRound `json:"rounds"`
	NextRequest uint64               `json:"next_request"`
}

// Export returns every round in id order.
func (s *Service) Export() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{NextRequest: s.nextRequest, Rounds: make([]model.LotteryRound, 0, len(s.rounds))}
	for _, r := range s.rounds {
		st.Rounds = append(st.Rounds, r.Clone())
	}
	return st
}

// Restore replaces all rounds. Only the last round may be unresolved.
func (s *Service) Restore(st State) error {
	rounds := make([]*model.LotteryRound, 0, len(st.Rounds))
	for i, r := range st.Rounds {
		if r.ID != uint64(i)+1 {
			return fmt.Errorf("%w: round %d out of sequence", model.ErrInvalidInput, r.ID)
		}
		if r.Status != model.RoundResolved && i != len(st.Rounds)-1 {
			return fmt.Errorf("%w: round %d is unresolved but not the latest", model.ErrInvalidInput, r.ID)
		}
		if r.RequestID > st.NextRequest {
			return fmt.Errorf("%w: round %d request %d ahead of counter", model.ErrInvalidInput, r.ID, r.RequestID)
		}
		c := r.Clone()
		rounds = append(rounds, &c)
	}
	s.mu.Lock()
	s.rounds = rounds
	s.nextRequest = st.NextRequest
	s.mu.Unlock()
	return nil
}
