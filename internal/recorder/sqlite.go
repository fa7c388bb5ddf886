package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"MediVault/internal/model"
)

// SQLiteRecorder journals events to SQLite and keeps one projection table per entity.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL so dashboards can read while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger.Named("recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id        TEXT PRIMARY KEY,
			seq       INTEGER NOT NULL,
			type      TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			vault_id  INTEGER,
			round_id  INTEGER,
			amount    INTEGER,
			payload   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq)`,
		`CREATE INDEX IF NOT EXISTS idx_events_vault ON events(vault_id)`,

		`CREATE TABLE IF NOT EXISTS vaults (
			id              INTEGER PRIMARY KEY,
			beneficiary     TEXT NOT NULL,
			target_amount   INTEGER NOT NULL,
			total_deposited INTEGER NOT NULL,
			education_track TEXT,
			status          TEXT NOT NULL,
			is_active       INTEGER NOT NULL,
			created_at      INTEGER,
			funded_at       INTEGER,
			closed_at       INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS investor_positions (
			vault_id         INTEGER NOT NULL,
			investor         TEXT NOT NULL,
			amount_deposited INTEGER NOT NULL,
			repaid           INTEGER NOT NULL DEFAULT 0,
			claimed          INTEGER NOT NULL DEFAULT 0,
			deposits         INTEGER NOT NULL,
			first_deposit_at INTEGER,
			last_deposit_at  INTEGER,
			last_return_at   INTEGER,
			last_claim_at    INTEGER,
			PRIMARY KEY (vault_id, investor)
		)`,

		`CREATE TABLE IF NOT EXISTS repayment_schedules (
			vault_id         INTEGER PRIMARY KEY,
			monthly_amount   INTEGER NOT NULL,
			total_months     INTEGER NOT NULL,
			paid_months      INTEGER NOT NULL,
			next_payment_due INTEGER NOT NULL,
			total_owed       INTEGER NOT NULL,
			total_paid       INTEGER NOT NULL,
			is_active        INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS repayment_payments (
			vault_id  INTEGER NOT NULL,
			month     INTEGER NOT NULL,
			amount    INTEGER NOT NULL,
			due_at    INTEGER NOT NULL,
			paid_at   INTEGER NOT NULL,
			PRIMARY KEY (vault_id, month)
		)`,

		`CREATE TABLE IF NOT EXISTS lottery_rounds (
			id           INTEGER PRIMARY KEY,
			status       TEXT NOT NULL,
			prize_pool   INTEGER NOT NULL,
			is_active    INTEGER NOT NULL,
			winner       INTEGER,
			request_id   INTEGER,
			random_value TEXT,
			started_at   INTEGER,
			resolved_at  INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS round_participants (
			round_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			vault_id INTEGER NOT NULL,
			PRIMARY KEY (round_id, position)
		)`,

		`CREATE TABLE IF NOT EXISTS price_observations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			price      INTEGER NOT NULL,
			multiplier INTEGER NOT NULL,
			status     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_ts ON price_observations(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return r.addColumns("investor_positions", map[string]string{
		"repaid":         "INTEGER NOT NULL DEFAULT 0",
		"claimed":        "INTEGER NOT NULL DEFAULT 0",
		"last_return_at": "INTEGER",
		"last_claim_at":  "INTEGER",
	})
}

// addColumns brings tables created by older builds up to the current layout.
func (r *SQLiteRecorder) addColumns(table string, columns map[string]string) error {
	rows, err := r.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for name, decl := range columns {
		if have[name] {
			continue
		}
		if _, err := r.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, decl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, name, err)
		}
		r.logger.Info("column added", zap.String("table", table), zap.String("column", name))
	}
	return nil
}

func (r *SQLiteRecorder) Name() string { return "recorder" }

// Handle journals evt and updates the projection it touches in one transaction.
// Replaying an event id already journaled is a no-op.
func (r *SQLiteRecorder) Handle(evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO events
		(id, seq, type, timestamp, vault_id, round_id, amount, payload)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		evt.ID.String(), string(evt.Type), unix(evt.At),
		evt.VaultID, evt.RoundID, uint64(evt.Amount), string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal %s: %w", evt.Type, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if err := project(tx, evt); err != nil {
		return fmt.Errorf("project %s: %w", evt.Type, err)
	}
	return tx.Commit()
}

func project(tx *sql.Tx, evt model.Event) error {
	if evt.Vault != nil {
		if err := upsertVault(tx, evt.Vault); err != nil {
			return err
		}
	}
	if evt.Position != nil {
		if err := upsertPosition(tx, evt.Position); err != nil {
			return err
		}
	}
	for i := range evt.Positions {
		if err := upsertPosition(tx, &evt.Positions[i]); err != nil {
			return err
		}
	}
	if evt.Schedule != nil {
		if err := upsertSchedule(tx, evt.Schedule); err != nil {
			return err
		}
	}
	if evt.Payment != nil {
		p := evt.Payment
		if _, err := tx.Exec(`INSERT OR IGNORE INTO repayment_payments
			(vault_id, month, amount, due_at, paid_at) VALUES (?,?,?,?,?)`,
			p.VaultID, p.Month, uint64(p.Amount), unix(p.DueAt), unix(p.PaidAt)); err != nil {
			return err
		}
	}
	if evt.Round != nil {
		if err := upsertRound(tx, evt.Round); err != nil {
			return err
		}
	}
	if evt.Type == model.EventPriceUpdated && evt.Price != nil {
		p := evt.Price
		if _, err := tx.Exec(`INSERT INTO price_observations
			(timestamp, price, multiplier, status) VALUES (?,?,?,?)`,
			unix(p.UpdatedAt), p.Price, p.Multiplier, string(p.Status)); err != nil {
			return err
		}
	}
	return nil
}

func upsertVault(tx *sql.Tx, v *model.Vault) error {
	_, err := tx.Exec(`INSERT INTO vaults
		(id, beneficiary, target_amount, total_deposited, education_track, status, is_active, created_at, funded_at, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			total_deposited = excluded.total_deposited,
			status          = excluded.status,
			is_active       = excluded.is_active,
			funded_at       = excluded.funded_at,
			closed_at       = excluded.closed_at`,
		v.ID, v.Beneficiary.Hex(), uint64(v.TargetAmount), uint64(v.TotalDeposited), v.EducationTrack,
		string(v.Status), v.IsActive, unix(v.CreatedAt), unix(v.FundedAt), unix(v.ClosedAt),
	)
	return err
}

func upsertPosition(tx *sql.Tx, p *model.InvestorPosition) error {
	_, err := tx.Exec(`INSERT INTO investor_positions
		(vault_id, investor, amount_deposited, repaid, claimed, deposits,
		 first_deposit_at, last_deposit_at, last_return_at, last_claim_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(vault_id, investor) DO UPDATE SET
			amount_deposited = excluded.amount_deposited,
			repaid           = excluded.repaid,
			claimed          = excluded.claimed,
			deposits         = excluded.deposits,
			last_deposit_at  = excluded.last_deposit_at,
			last_return_at   = excluded.last_return_at,
			last_claim_at    = excluded.last_claim_at`,
		p.VaultID, p.Investor.Hex(), uint64(p.AmountDeposited), uint64(p.Repaid), uint64(p.Claimed), p.Deposits,
		unix(p.FirstDepositAt), unix(p.LastDepositAt), unix(p.LastReturnAt), unix(p.LastClaimAt),
	)
	return err
}

func upsertSchedule(tx *sql.Tx, s *model.RepaymentSchedule) error {
	_, err := tx.Exec(`INSERT INTO repayment_schedules
		(vault_id, monthly_amount, total_months, paid_months, next_payment_due, total_owed, total_paid, is_active)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(vault_id) DO UPDATE SET
			paid_months      = excluded.paid_months,
			next_payment_due = excluded.next_payment_due,
			total_paid       = excluded.total_paid,
			is_active        = excluded.is_active`,
		s.VaultID, uint64(s.MonthlyAmount), s.TotalMonths, s.PaidMonths,
		unix(s.NextPaymentDue), uint64(s.TotalOwed), uint64(s.TotalPaid), s.IsActive,
	)
	return err
}

func upsertRound(tx *sql.Tx, rd *model.LotteryRound) error {
	if _, err := tx.Exec(`INSERT INTO lottery_rounds
		(id, status, prize_pool, is_active, winner, request_id, random_value, started_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			prize_pool   = excluded.prize_pool,
			is_active    = excluded.is_active,
			winner       = excluded.winner,
			request_id   = excluded.request_id,
			random_value = excluded.random_value,
			resolved_at  = excluded.resolved_at`,
		rd.ID, string(rd.Status), uint64(rd.PrizePool), rd.IsActive, rd.Winner,
		rd.RequestID, rd.RandomValue, unix(rd.StartedAt), unix(rd.ResolvedAt),
	); err != nil {
		return err
	}
	for i, vaultID := range rd.Participants {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO round_participants
			(round_id, position, vault_id) VALUES (?,?,?)`, rd.ID, i, vaultID); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to limit journaled events, newest first.
func (r *SQLiteRecorder) Recent(limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT payload FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var evt model.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return nil, fmt.Errorf("decode journaled event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
