package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gatehouse.org/internal/ids"
)

var _ Sink = (*PGSink)(nil)

// PGSink appends events to an append-only table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	meta, _ := json.Marshal(ev.Meta)

	var accountID any
	if ev.AccountID != "" {
		accountID = ev.AccountID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_events(id, occurred_at, account_id, event_type, outcome, ip, user_agent, metadata)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.OccurredAt, accountID, ev.Type, ev.Outcome, ev.IP, ev.UserAgent, meta,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Fanout records to every sink and reports the first error; later sinks
// still run so the log line survives a database outage.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, ev Event) error {
	var first error
	for _, sink := range f {
		if err := sink.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
