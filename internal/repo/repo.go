// Package repo reads the generation event log.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"blueprint/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 50

// EventFilters narrows LatestEvents. Zero values match everything.
type EventFilters struct {
	Task   string
	Status string
	Limit  int
	// Before returns only events older than the event with this id.
	Before string
}

const eventColumns = `id,ts,task,status,duration_ms,COALESCE(model,''),COALESCE(error_code,''),output_bytes`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.TS, &e.Task, &e.Status, &e.DurationMS, &e.Model, &e.ErrorCode, &e.OutputBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM generation_events WHERE id=?`, id))
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Task != "" {
		clauses = append(clauses, "task=?")
		args = append(args, f.Task)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Before != "" {
		clauses = append(clauses, "seq < (SELECT seq FROM generation_events WHERE id=?)")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM generation_events %s ORDER BY seq DESC LIMIT ?`, eventColumns, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountByStatus tallies events per status, optionally for one task.
func (r Repo) CountByStatus(ctx context.Context, task string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM generation_events`
	var args []any
	if task != "" {
		query += ` WHERE task=?`
		args = append(args, task)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
