package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"MediVault/internal/ledger"
	"MediVault/internal/lottery"
	"MediVault/internal/metrics"
	"MediVault/internal/model"
	"MediVault/internal/pricing"
	"MediVault/internal/repayment"
	"MediVault/internal/snapshot"
	"MediVault/internal/vault"
)

// PrincipalHeader carries the authenticated caller identity set by the fronting gateway.
const PrincipalHeader = "X-Principal"

const maxBodyBytes = 1 << 20

// Config captures the dependencies required to construct the server.
// Gatherer, Metrics and Barrier may be nil.
type Config struct {
	Vaults    *vault.Manager
	Ledger    *ledger.Ledger
	Repayment *repayment.Scheduler
	Lottery   *lottery.Service
	Pricing   *pricing.Service
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Clock     model.Clock
	// Barrier is held by every mutating request so checkpoints see a quiescent book.
	Barrier *snapshot.Barrier
	// Oracle is the only principal allowed to post price observations and
	// Operator the only one allowed to drive lottery rounds. A zero address
	// disables the route.
	Oracle   model.Address
	Operator model.Address
	// DefaultMonths is used when a schedule request omits total_months.
	DefaultMonths uint32
}

// Server is the JSON HTTP boundary in front of the core components.
type Server struct {
	Config
	logger *zap.Logger
	router http.Handler
}

// New constructs the server and its router.
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.Clock == nil {
		cfg.Clock = model.SystemClock{}
	}
	s := &Server{Config: cfg, logger: logger.Named("api")}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(s.holdBarrier)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/vaults", func(vr chi.Router) {
		vr.Get("/", s.ListVaults)
		vr.Post("/", s.CreateVault)
		vr.Route("/{id}", func(one chi.Router) {
			one.Get("/", s.GetVault)
			one.Post("/invest", s.Invest)
			one.Post("/close", s.CloseVault)
			one.Post("/claim", s.Claim)
			one.Get("/investors", s.ListInvestors)
			one.Get("/investors/{addr}", s.GetInvestor)
			one.Post("/schedule", s.CreateSchedule)
			one.Get("/schedule", s.GetSchedule)
		})
	})
	r.Get("/schedules/active", s.ActiveSchedules)
	r.Get("/upkeep", s.CheckUpkeep)
	r.Post("/upkeep", s.PerformUpkeep)

	r.Route("/price", func(pr chi.Router) {
		pr.Get("/", s.GetPrice)
		pr.Post("/", s.ObservePrice)
		pr.Get("/simulate", s.SimulateInvestment)
	})

	r.Route("/lottery", func(lr chi.Router) {
		lr.Post("/rounds", s.StartRound)
		lr.Get("/current", s.CurrentRound)
		lr.Get("/rounds/{id}", s.GetRound)
		lr.Post("/enter", s.EnterLottery)
		lr.Post("/randomness", s.RequestRandomness)
		lr.Post("/resolve", s.ResolveRound)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// holdBarrier keeps checkpoints out while a mutating request runs.
func (s *Server) holdBarrier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			release := s.Barrier.Hold()
			defer release()
		}
		next.ServeHTTP(w, r)
	})
}

// CreateVault opens a vault for the calling principal.
func (s *Server) CreateVault(w http.ResponseWriter, r *http.Request) {
	beneficiary, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		TargetAmount   model.Amount `json:"target_amount"`
		EducationTrack string       `json:"education_track"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	v, err := s.Vaults.CreateVault(beneficiary, req.TargetAmount, strings.TrimSpace(req.EducationTrack))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ListVaults returns every vault ordered by id.
func (s *Server) ListVaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Vaults.List())
}

// GetVault returns one vault.
func (s *Server) GetVault(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := s.Vaults.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Invest deposits into a vault on behalf of the calling principal.
func (s *Server) Invest(w http.ResponseWriter, r *http.Request) {
	investor, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount model.Amount `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	inv, err := s.Vaults.Invest(id, investor, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// CloseVault closes a vault that has no repayment schedule. Only the
// beneficiary may close it.
func (s *Server) CloseVault(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireBeneficiary(w, id, caller) {
		return
	}
	v, err := s.Vaults.Close(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Claim pays the principal its unclaimed repayment credits and, for the
// beneficiary, the vault's unclaimed lottery prizes.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.Vaults.Claim(id, caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListInvestors returns a vault's positions in first-deposit order.
func (s *Server) ListInvestors(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	positions, err := s.Ledger.Investors(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetInvestor returns one investor's position in a vault.
func (s *Server) GetInvestor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	addr, err := model.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.Ledger.Position(id, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CreateSchedule starts repayment of a funded vault on behalf of its beneficiary.
func (s *Server) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireBeneficiary(w, id, caller) {
		return
	}
	var req struct {
		TotalMonths uint32 `json:"total_months"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if req.TotalMonths == 0 {
		req.TotalMonths = s.DefaultMonths
	}
	sched, err := s.Repayment.CreateSchedule(id, req.TotalMonths)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

type scheduleView struct {
	model.RepaymentSchedule
	Status   model.ScheduleStatus `json:"status"`
	Payments []model.Payment      `json:"payments"`
}

// GetSchedule returns a vault's schedule with its payment history.
func (s *Server) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	sched, err := s.Repayment.GetSchedule(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payments, err := s.Repayment.Payments(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleView{
		RepaymentSchedule: sched,
		Status:            sched.Status(s.Clock.Now()),
		Payments:          payments,
	})
}

// ActiveSchedules lists the vault ids whose schedules are still running.
func (s *Server) ActiveSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"vault_ids": s.Repayment.ActiveSchedules()})
}

type upkeepCheck struct {
	UpkeepNeeded bool          `json:"upkeep_needed"`
	PerformData  hexutil.Bytes `json:"perform_data,omitempty"`
	VaultIDs     []uint64      `json:"vault_ids,omitempty"`
}

// CheckUpkeep reports whether any installment is due. It changes nothing.
func (s *Server) CheckUpkeep(w http.ResponseWriter, _ *http.Request) {
	needed, data := s.Repayment.CheckUpkeep()
	resp := upkeepCheck{UpkeepNeeded: needed, PerformData: data}
	if needed {
		resp.VaultIDs, _ = repayment.DecodePerformData(data)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PerformUpkeep processes due installments. The perform_data hint is optional;
// without it the current checkUpkeep result is used.
func (s *Server) PerformUpkeep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PerformData hexutil.Bytes `json:"perform_data"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	data := []byte(req.PerformData)
	needed := true
	if len(data) == 0 {
		needed, data = s.Repayment.CheckUpkeep()
	}
	var payments []model.Payment
	if needed {
		payments = s.Repayment.PerformUpkeep(data)
	}
	if s.Metrics != nil {
		s.Metrics.ObserveUpkeep(needed, len(payments))
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": len(payments), "payments": payments})
}

// GetPrice returns the current price state.
func (s *Server) GetPrice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Pricing.Status())
}

// ObservePrice accepts a price observation from the configured oracle.
func (s *Server) ObservePrice(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, s.Oracle, model.ErrNotOracle) {
		return
	}
	var req struct {
		Price      int64     `json:"price"`
		ObservedAt time.Time `json:"observed_at"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	applied, err := s.Pricing.Observe(req.Price, req.ObservedAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "state": s.Pricing.Status()})
}

// SimulateInvestment reports what ?amount= would be credited as right now.
func (s *Server) SimulateInvestment(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	base, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || base == 0 {
		s.writeError(w, fmt.Errorf("%w: amount %q", model.ErrInvalidAmount, raw))
		return
	}
	sim, err := s.Pricing.Simulate(model.Amount(base))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// StartRound opens a new lottery round.
func (s *Server) StartRound(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, s.Operator, model.ErrNotOperator) {
		return
	}
	round, err := s.Lottery.StartRound()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

type roundView struct {
	Round          *model.LotteryRound `json:"round"`
	EntryFee       model.Amount        `json:"entry_fee"`
	TotalPrizePool model.Amount        `json:"total_prize_pool"`
	// Escrow is the entry fees held for rounds not yet resolved.
	Escrow model.Amount `json:"escrow"`
}

// CurrentRound returns the latest round, or a null round before the first one.
func (s *Server) CurrentRound(w http.ResponseWriter, _ *http.Request) {
	resp := roundView{
		EntryFee:       s.Lottery.EntryFee(),
		TotalPrizePool: s.Lottery.TotalPrizePool(),
		Escrow:         s.Ledger.Escrow(),
	}
	if round, ok := s.Lottery.Current(); ok {
		resp.Round = &round
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRound returns one round by id.
func (s *Server) GetRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	round, err := s.Lottery.Round(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// EnterLottery enters a vault into the open round; the principal pays the fee.
func (s *Server) EnterLottery(w http.ResponseWriter, r *http.Request) {
	payer, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		VaultID uint64 `json:"vault_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	round, err := s.Lottery.Enter(req.VaultID, payer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// RequestRandomness closes entries and returns the pending request id.
func (s *Server) RequestRandomness(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, s.Operator, model.ErrNotOperator) {
		return
	}
	reqID, err := s.Lottery.RequestRandomness()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"request_id": reqID})
}

// ResolveRound resolves the current round with a random word. With a
// request_id the value is treated as the fulfilment of that request.
func (s *Server) ResolveRound(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, s.Operator, model.ErrNotOperator) {
		return
	}
	var req struct {
		RequestID   uint64 `json:"request_id"`
		RandomValue string `json:"random_value"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	value, err := parseRandom(req.RandomValue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var round model.LotteryRound
	if req.RequestID != 0 {
		round, err = s.Lottery.FulfillRandomness(req.RequestID, value)
	} else {
		round, err = s.Lottery.ResolveRound(value)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// parseRandom accepts a decimal or 0x-prefixed hex 256-bit word.
func parseRandom(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: random_value is required", model.ErrInvalidInput)
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err = uint256.FromHex(raw)
	} else {
		v, err = uint256.FromDecimal(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: random_value: %v", model.ErrInvalidInput, err)
	}
	return v, nil
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	raw := r.Header.Get(PrincipalHeader)
	if raw == "" {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing identity"))
		return model.Address{}, false
	}
	addr, err := model.ParseAddress(raw)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return model.Address{}, false
	}
	return addr, true
}

func (s *Server) requireBeneficiary(w http.ResponseWriter, vaultID uint64, caller model.Address) bool {
	v, err := s.Vaults.Get(vaultID)
	if err != nil {
		s.writeError(w, err)
		return false
	}
	if v.Beneficiary != caller {
		s.writeError(w, fmt.Errorf("vault %d: %w", vaultID, model.ErrNotBeneficiary))
		return false
	}
	return true
}

// requireRole admits only the principal equal to want. An unset role admits nobody.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, want model.Address, denied error) bool {
	caller, ok := s.principal(w, r)
	if !ok {
		return false
	}
	if want == (model.Address{}) || caller != want {
		s.writeError(w, denied)
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: bad %s %q", model.ErrInvalidInput, key, raw))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSONError(w, status, err)
}

func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindUnknownEntity:
		return http.StatusNotFound
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindCapacityExceeded, model.KindInvalidStateTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": strings.TrimSpace(err.Error())}
	if kind := model.KindOf(err); kind != model.KindUnknown {
		body["kind"] = kind.String()
	}
	_ = json.NewEncoder(w).Encode(body)
}
