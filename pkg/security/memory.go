package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseHook is invoked when a critical incident is created. Implementations
// typically block the subject and escalate immediately.
type ResponseHook func(ctx context.Context, inc Incident)

// MemoryLedger is an in-memory Ledger plus Incidents implementation.
type MemoryLedger struct {
	mu        sync.Mutex
	events    []Event
	lastHash  string
	incidents map[string]*Incident
	hook      ResponseHook
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{incidents: make(map[string]*Incident)}
}

// SetCriticalHook installs the automated response for critical incidents.
func (l *MemoryLedger) SetCriticalHook(hook ResponseHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

func (l *MemoryLedger) Append(_ context.Context, e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == "" {
		e.ID = newEventID(e.CreatedAt)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	hash, err := chainHash(e, l.lastHash)
	if err != nil {
		return Event{}, err
	}
	e.PrevHash = l.lastHash
	e.Hash = hash
	l.lastHash = hash

	l.events = append(l.events, e)
	return e, nil
}

func (l *MemoryLedger) Query(_ context.Context, f Filter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := clampLimit(f.Limit)
	out := make([]Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if matches(l.events[i], f) {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

func (l *MemoryLedger) Create(ctx context.Context, inc Incident) (Incident, error) {
	l.mu.Lock()

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
	stored := inc
	l.incidents[inc.ID] = &stored
	hook := l.hook
	l.mu.Unlock()

	if _, err := l.Append(ctx, Event{
		Type:      EventIncidentCreated,
		Severity:  inc.Severity,
		SubjectID: inc.SubjectID,
		Details:   map[string]any{"incident_id": inc.ID, "incident_type": inc.Type},
	}); err != nil {
		return Incident{}, err
	}

	if inc.Severity == SeverityCritical && hook != nil {
		hook(ctx, inc)
	}
	return inc, nil
}

func (l *MemoryLedger) UpdateStatus(_ context.Context, id string, to IncidentStatus) (Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inc, ok := l.incidents[id]
	if !ok {
		return Incident{}, ErrIncidentNotFound
	}
	if !CanTransition(inc.Status, to) {
		return Incident{}, ErrInvalidTransition
	}
	inc.Status = to
	inc.UpdatedAt = time.Now()
	return *inc, nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inc, ok := l.incidents[id]
	if !ok {
		return Incident{}, ErrIncidentNotFound
	}
	return *inc, nil
}
