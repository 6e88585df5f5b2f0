package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by Get when no entry has the requested id.
var ErrNotFound = errors.New("history entry not found")

// Entry is one completed workflow run.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	Workflow    string          `json:"workflow"`
	Client      string          `json:"-"`
	ProductName string          `json:"product_name,omitempty"`
	Model       string          `json:"model,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Rationale   string          `json:"rationale,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Recorder persists workflow runs.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// History stores generation history in PostgreSQL.
type History struct {
	db  Querier
	now func() time.Time
}

func NewHistory(db Querier) *History {
	return &History{db: db, now: time.Now}
}

const entryColumns = `id, workflow, client, product_name, model, prompt, rationale, image_url, detail, created_at`

// Record inserts e, assigning an id and timestamp when they are unset.
func (h *History) Record(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now().UTC()
	}
	var detail any
	if len(e.Detail) > 0 {
		detail = []byte(e.Detail)
	}
	_, err := h.db.Exec(ctx, `
		INSERT INTO generations (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Workflow, e.Client, e.ProductName, e.Model, e.Prompt, e.Rationale, e.ImageURL, detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Recent lists the newest entries for client, newest first.
func (h *History) Recent(ctx context.Context, client string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := h.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM generations
		WHERE client = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, client, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return out, nil
}

// Get returns a single entry, scoped to client.
func (h *History) Get(ctx context.Context, client string, id uuid.UUID) (*Entry, error) {
	row := h.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM generations
		WHERE id = $1 AND client = $2
	`, id, client)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var detail []byte
	err := row.Scan(&e.ID, &e.Workflow, &e.Client, &e.ProductName, &e.Model,
		&e.Prompt, &e.Rationale, &e.ImageURL, &detail, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	if len(detail) > 0 {
		e.Detail = json.RawMessage(detail)
	}
	return &e, nil
}
