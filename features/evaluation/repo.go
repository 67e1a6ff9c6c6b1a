package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Record is the audit row for one evaluation, synchronous or queued.
type Record struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	DecisionStatus string          `json:"decision_status,omitempty"`
	Request        json.RawMessage `json:"request"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func pendingRecord(id string, req Request) (*Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, Status: StatusPending, Request: body}, nil
}

func completedRecord(id string, req Request, res *Result) (*Record, error) {
	rec, err := pendingRecord(id, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	rec.Status = StatusCompleted
	rec.DecisionStatus = string(res.Decision.Status)
	rec.Result = body
	return rec, nil
}

type Repository interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	CountByDecision(ctx context.Context) (map[string]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts the record or overwrites the mutable columns of an existing one.
func (r *PostgresRepo) Save(ctx context.Context, rec *Record) error {
	query := `INSERT INTO evaluations (id, status, decision_status, request, result, error_code, error_message)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decision_status = EXCLUDED.decision_status,
			result = EXCLUDED.result,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	var result interface{}
	if len(rec.Result) > 0 {
		result = string(rec.Result)
	}
	return r.db.QueryRowContext(ctx, query,
		rec.ID, rec.Status, rec.DecisionStatus, string(rec.Request), result, rec.ErrorCode, rec.ErrorMessage,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var decision sql.NullString
	var request, result []byte
	query := `SELECT id, status, decision_status, request, result, error_code, error_message, created_at, updated_at FROM evaluations WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Status, &decision, &request, &result, &rec.ErrorCode, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.DecisionStatus = decision.String
	rec.Request = json.RawMessage(request)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	return rec, nil
}

// CountByDecision counts completed evaluations per decision status.
func (r *PostgresRepo) CountByDecision(ctx context.Context) (map[string]int, error) {
	query := `SELECT decision_status, COUNT(*) FROM evaluations WHERE decision_status IS NOT NULL GROUP BY decision_status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
