// Package ledger records estimated and charged embedding costs in a local
// SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

const schemaVersion = 1

// Amounts are TEXT holding exactly billing.CostScale fractional digits, the
// DECIMAL(12,8) layout of the charge records.
const ddlCharges = `CREATE TABLE IF NOT EXISTS charges (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	doc_id          TEXT NOT NULL,
	doc_name        TEXT NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL,
	tokens          INTEGER NOT NULL,
	chunks          INTEGER NOT NULL,
	extraction_cost TEXT NOT NULL,
	embedding_cost  TEXT NOT NULL,
	total_cost      TEXT NOT NULL,
	credits         INTEGER NOT NULL,
	dry_run         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
)`

const ddlMeta = `CREATE TABLE IF NOT EXISTS ledger_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

var ddlIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_charges_model ON charges(model)`,
	`CREATE INDEX IF NOT EXISTS idx_charges_run ON charges(run_id)`,
}

// Entry is one per-document charge.
type Entry struct {
	ID        string               `json:"id"`
	RunID     string               `json:"run_id"`
	DocID     string               `json:"doc_id"`
	DocName   string               `json:"doc_name"`
	Provider  string               `json:"provider"`
	Model     string               `json:"model"`
	Tokens    int                  `json:"tokens"`
	Chunks    int                  `json:"chunks"`
	Cost      billing.CostEstimate `json:"cost"`
	DryRun    bool                 `json:"dry_run"`
	CreatedAt time.Time            `json:"created_at"`
}

// Total aggregates the charged (non dry-run) entries of one model.
type Total struct {
	Model     string          `json:"model"`
	Documents int             `json:"documents"`
	Tokens    int64           `json:"tokens"`
	Cost      decimal.Decimal `json:"total_cost"`
	Credits   int64           `json:"credits"`
}

// Ledger wraps the SQLite handle.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and migrates it. Pass
// ":memory:" for a throwaway ledger.
func Open(path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("ledger.Open: mkdir: %w", err)
		}
		dsn = path + "?_journal=WAL&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger.Open: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger.Open: ping: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db}
	if err := l.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Migrate creates the schema once per schema version.
func (l *Ledger) Migrate() error {
	if _, err := l.db.Exec(ddlMeta); err != nil {
		return fmt.Errorf("ledger.Migrate: meta table: %w", err)
	}
	var version int
	err := l.db.QueryRow(`SELECT value FROM ledger_meta WHERE key='schema_version'`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger.Migrate: read schema_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	for _, ddl := range append([]string{ddlCharges}, ddlIndexes...) {
		if _, err := l.db.Exec(ddl); err != nil {
			return fmt.Errorf("ledger.Migrate: %w", err)
		}
	}
	_, err = l.db.Exec(`INSERT INTO ledger_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("ledger.Migrate: schema_version upsert: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Record inserts e, assigning an id and timestamp when unset, and returns
// the stored entry.
func (l *Ledger) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Model == "" {
		return Entry{}, errors.New("ledger entry needs a model")
	}
	if e.Tokens < 0 || e.Cost.Credits < 0 || e.Cost.TotalCost.IsNegative() {
		return Entry{}, fmt.Errorf("ledger entry for %s has negative amounts", e.DocName)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO charges
		(id, run_id, doc_id, doc_name, provider, model, tokens, chunks,
		 extraction_cost, embedding_cost, total_cost, credits, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.DocID, e.DocName, e.Provider, e.Model, e.Tokens, e.Chunks,
		fixed(e.Cost.ExtractionCost), fixed(e.Cost.EmbeddingCost), fixed(e.Cost.TotalCost),
		e.Cost.Credits, e.DryRun, e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger.Record: %w", err)
	}
	return e, nil
}

// Entries returns the charges of one run in insertion order.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, run_id, doc_id, doc_name, provider, model,
		tokens, chunks, extraction_cost, embedding_cost, total_cost, credits, dry_run, created_at
		FROM charges WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ext, emb, tot string
		if err := rows.Scan(&e.ID, &e.RunID, &e.DocID, &e.DocName, &e.Provider, &e.Model,
			&e.Tokens, &e.Chunks, &ext, &emb, &tot, &e.Cost.Credits, &e.DryRun, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger.Entries: scan: %w", err)
		}
		if e.Cost.ExtractionCost, err = decimal.NewFromString(ext); err != nil {
			return nil, fmt.Errorf("ledger.Entries: extraction_cost: %w", err)
		}
		if e.Cost.EmbeddingCost, err = decimal.NewFromString(emb); err != nil {
			return nil, fmt.Errorf("ledger.Entries: embedding_cost: %w", err)
		}
		if e.Cost.TotalCost, err = decimal.NewFromString(tot); err != nil {
			return nil, fmt.Errorf("ledger.Entries: total_cost: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Totals sums charged entries per model, ordered by model. Costs are summed
// in decimal rather than by SQLite so no float rounding creeps in.
func (l *Ledger) Totals(ctx context.Context) ([]Total, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT model, tokens, total_cost, credits
		FROM charges WHERE dry_run = 0 ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("ledger.Totals: %w", err)
	}
	defer rows.Close()
	var out []Total
	for rows.Next() {
		var model, cost string
		var tokens, credits int64
		if err := rows.Scan(&model, &tokens, &cost, &credits); err != nil {
			return nil, fmt.Errorf("ledger.Totals: scan: %w", err)
		}
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("ledger.Totals: total_cost: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Model != model {
			out = append(out, Total{Model: model, Cost: decimal.Zero})
		}
		t := &out[len(out)-1]
		t.Documents++
		t.Tokens += tokens
		t.Cost = t.Cost.Add(d)
		t.Credits += credits
	}
	return out, rows.Err()
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(billing.CostScale)
}
