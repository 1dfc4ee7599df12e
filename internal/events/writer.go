// Package events appends generation audit records to the event log.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"blueprint/internal/domain"
)

// Writer appends events. A nil Writer, or one without a DB, discards them.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append stores evt, filling ID and TS when empty, and returns the stored
// event.
func (w *Writer) Append(ctx context.Context, evt domain.Event) (domain.Event, error) {
	if w == nil || w.DB == nil {
		return evt, nil
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.TS == "" {
		evt.TS = now().UTC().Format(time.RFC3339Nano)
	}
	if evt.Task == "" || evt.Status == "" {
		return evt, fmt.Errorf("event task and status are required")
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO generation_events(id,ts,task,status,duration_ms,model,error_code,output_bytes) VALUES (?,?,?,?,?,?,?,?)`,
		evt.ID, evt.TS, evt.Task, evt.Status, evt.DurationMS, nullable(evt.Model), nullable(evt.ErrorCode), evt.OutputBytes)
	if err != nil {
		return evt, fmt.Errorf("insert generation event: %w", err)
	}
	return evt, nil
}

// Enabled reports whether appended events are persisted.
func (w *Writer) Enabled() bool {
	return w != nil && w.DB != nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
