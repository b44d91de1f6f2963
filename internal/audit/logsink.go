package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

var _ Sink = (*LogSink)(nil)

// LogSink writes audit events as structured JSON lines through the shared
// logger.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Record(_ context.Context, ev Event) error {
	if ev.Type == "" {
		return errors.New("audit: event type is required")
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	entry := map[string]any{
		"ts":      ev.OccurredAt.Format(time.RFC3339Nano),
		"type":    "audit",
		"id":      ev.ID,
		"event":   ev.Type,
		"outcome": ev.Outcome,
	}
	if ev.AccountID != "" {
		entry["account_id"] = ev.AccountID
	}
	if ev.IP != "" {
		entry["ip"] = ev.IP
	}
	if ev.UserAgent != "" {
		entry["user_agent"] = ev.UserAgent
	}
	if len(ev.Meta) > 0 {
		entry["fields"] = ev.Meta
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
