package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/michaelpento.lv/polyarb/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  INTEGER NOT NULL,
	route       TEXT NOT NULL,
	source      TEXT NOT NULL,
	amount_in   TEXT NOT NULL,
	final_out   TEXT NOT NULL,
	hop1_venue  TEXT NOT NULL,
	hop2_venue  TEXT NOT NULL,
	gross_usd   TEXT NOT NULL,
	premium_usd TEXT NOT NULL,
	gas_usd     TEXT NOT NULL,
	net_usd     TEXT NOT NULL,
	decision    TEXT NOT NULL,
	reason      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluations_decision ON evaluations(decision);

CREATE TABLE IF NOT EXISTS executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at   INTEGER NOT NULL,
	route        TEXT NOT NULL,
	dry_run      INTEGER NOT NULL,
	gas_estimate INTEGER NOT NULL,
	tx_hash      TEXT NOT NULL,
	status       INTEGER NOT NULL,
	error        TEXT NOT NULL
);
`

// Evaluation is one journaled (route, size) result
type Evaluation struct {
	CreatedAt time.Time
	Route     string
	Source    string
	AmountIn  string
	FinalOut  string
	Hop1Venue string
	Hop2Venue string
	NetUSD    string
	Decision  string
	Reason    string
}

// Execution is one journaled execution attempt
type Execution struct {
	CreatedAt   time.Time
	Route       string
	DryRun      bool
	GasEstimate uint64
	TxHash      common.Hash
	Status      uint64
	Error       string
}

// Journal appends evaluations and executions to SQLite. It is safe for
// concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// OpenJournal opens or creates the journal at path, creating its directory.
// ":memory:" keeps it in memory.
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// one writer; an in-memory db also needs a single shared connection
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordEvaluation appends res, tagged with the producer that asked for it
func (j *Journal) RecordEvaluation(ctx context.Context, res *types.ProfitabilityResult, source string) error {
	if res == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO evaluations (created_at, route, source, amount_in, final_out, hop1_venue, hop2_venue,
			gross_usd, premium_usd, gas_usd, net_usd, decision, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.now().UnixMilli(),
		res.Route.String(),
		source,
		bigString(res.InputAmount),
		bigString(res.FinalOutputAmount),
		venue(res.Hop1Quote),
		venue(res.Hop2Quote),
		res.GrossProfitUSD.String(),
		res.PremiumUSD.String(),
		res.EstimatedGasCostUSD.String(),
		res.NetProfitUSD.String(),
		res.Decision.String(),
		res.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// RecordExecution appends an execution attempt
func (j *Journal) RecordExecution(ctx context.Context, e Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (created_at, route, dry_run, gas_estimate, tx_hash, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CreatedAt.UnixMilli(), e.Route, e.DryRun, e.GasEstimate, e.TxHash.Hex(), e.Status, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// RecentEvaluations returns up to limit evaluations, newest first
func (j *Journal) RecentEvaluations(ctx context.Context, limit int) ([]Evaluation, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT created_at, route, source, amount_in, final_out, hop1_venue, hop2_venue, net_usd, decision, reason
		FROM evaluations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var e Evaluation
		var ms int64
		if err := rows.Scan(&ms, &e.Route, &e.Source, &e.AmountIn, &e.FinalOut, &e.Hop1Venue, &e.Hop2Venue, &e.NetUSD, &e.Decision, &e.Reason); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByDecision tallies journaled evaluations per decision
func (j *Journal) CountByDecision(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT decision, COUNT(*) FROM evaluations GROUP BY decision")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[d] = n
	}
	return out, rows.Err()
}

// Executions returns every journaled execution, oldest first
func (j *Journal) Executions(ctx context.Context) ([]Execution, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT created_at, route, dry_run, gas_estimate, tx_hash, status, error FROM executions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var ms int64
		var hash string
		if err := rows.Scan(&ms, &e.Route, &e.DryRun, &e.GasEstimate, &hash, &e.Status, &e.Error); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ms)
		e.TxHash = common.HexToHash(hash)
		out = append(out, e)
	}
	return out, rows.Err()
}

func venue(q *types.Quote) string {
	if q == nil {
		return ""
	}
	return q.Venue
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
