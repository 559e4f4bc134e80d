package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SQLLedger implements Ledger and Incidents over database/sql with Postgres
// placeholders (lib/pq).
type SQLLedger struct {
	db *sql.DB

	mu       sync.Mutex
	lastHash string
	hook     ResponseHook
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// SetCriticalHook installs the automated response for critical incidents.
func (l *SQLLedger) SetCriticalHook(hook ResponseHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// Retention is enforced by an external sweep job deleting rows past their
// window: security_events 90d, login-attempt events 30d, audit exports 1y.
const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	subject_id TEXT,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	hash TEXT NOT NULL,
	prev_hash TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_events_subject ON security_events (subject_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events (type, created_at DESC);

CREATE TABLE IF NOT EXISTS security_incidents (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	subject_id TEXT,
	description TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the schema and loads the chain head.
func (l *SQLLedger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init security schema: %w", err)
	}

	row := l.db.QueryRowContext(ctx,
		`SELECT hash FROM security_events ORDER BY id DESC LIMIT 1`)
	var head string
	if err := row.Scan(&head); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load chain head: %w", err)
	}

	l.mu.Lock()
	l.lastHash = head
	l.mu.Unlock()
	return nil
}

func (l *SQLLedger) Append(ctx context.Context, e Event) (Event, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == "" {
		e.ID = newEventID(e.CreatedAt)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hash, err := chainHash(e, l.lastHash)
	if err != nil {
		return Event{}, err
	}
	e.PrevHash = l.lastHash
	e.Hash = hash

	details, err := json.Marshal(e.Details)
	if err != nil {
		return Event{}, fmt.Errorf("marshal details: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO security_events (id, type, severity, subject_id, details, created_at, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Type, string(e.Severity), nullable(e.SubjectID), details, e.CreatedAt, e.Hash, nullable(e.PrevHash),
	)
	if err != nil {
		return Event{}, fmt.Errorf("append security event: %w", err)
	}

	l.lastHash = hash
	return e, nil
}

func (l *SQLLedger) Query(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT id, type, severity, subject_id, details, created_at, hash, prev_hash
		FROM security_events WHERE 1=1`
	args := []any{}
	idx := 1

	if f.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", idx)
		args = append(args, f.SubjectID)
		idx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, f.Since)
		idx++
	}
	if !f.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, f.Until)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, clampLimit(f.Limit))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			subject sql.NullString
			prev    sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Severity, &subject, &details, &e.CreatedAt, &e.Hash, &prev); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		e.SubjectID = subject.String
		e.PrevHash = prev.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLLedger) Create(ctx context.Context, inc Incident) (Incident, error) {
	now := time.Now()
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	inc.Status = IncidentOpen
	inc.CreatedAt = now
	inc.UpdatedAt = now
	if inc.Severity == "" {
		inc.Severity = SeverityMedium
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO security_incidents (id, type, severity, subject_id, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inc.ID, inc.Type, string(inc.Severity), nullable(inc.SubjectID), inc.Description, string(inc.Status), inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return Incident{}, fmt.Errorf("create incident: %w", err)
	}

	if _, err := l.Append(ctx, Event{
		Type:      EventIncidentCreated,
		Severity:  inc.Severity,
		SubjectID: inc.SubjectID,
		Details:   map[string]any{"incident_id": inc.ID, "incident_type": inc.Type},
	}); err != nil {
		return Incident{}, err
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if inc.Severity == SeverityCritical && hook != nil {
		hook(ctx, inc)
	}
	return inc, nil
}

func (l *SQLLedger) UpdateStatus(ctx context.Context, id string, to IncidentStatus) (Incident, error) {
	inc, err := l.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if !CanTransition(inc.Status, to) {
		return Incident{}, ErrInvalidTransition
	}

	now := time.Now()
	// Guard the transition in SQL as well: the WHERE clause re-checks the
	// current status so concurrent updates cannot move backwards.
	res, err := l.db.ExecContext(ctx, `
		UPDATE security_incidents SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), now, id, string(inc.Status),
	)
	if err != nil {
		return Incident{}, fmt.Errorf("update incident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Incident{}, ErrInvalidTransition
	}

	inc.Status = to
	inc.UpdatedAt = now
	return inc, nil
}

func (l *SQLLedger) Get(ctx context.Context, id string) (Incident, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, type, severity, subject_id, description, status, created_at, updated_at
		FROM security_incidents WHERE id = $1`, id)

	var (
		inc     Incident
		subject sql.NullString
	)
	err := row.Scan(&inc.ID, &inc.Type, &inc.Severity, &subject, &inc.Description, &inc.Status, &inc.CreatedAt, &inc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Incident{}, ErrIncidentNotFound
	}
	if err != nil {
		return Incident{}, fmt.Errorf("get incident: %w", err)
	}
	inc.SubjectID = subject.String
	return inc, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
