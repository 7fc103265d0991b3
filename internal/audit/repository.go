package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed audit trail reader.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, clause+"$"+strconv.Itoa(len(args)))
	}
	if actor := strings.TrimSpace(filters.Actor); actor != "" {
		add("actor = ", actor)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity = ", entity)
	}
	if entityID := strings.TrimSpace(filters.EntityID); entityID != "" {
		add("entity_id = ", entityID)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action = ", action)
	}
	if !filters.From.IsZero() {
		add("occurred_at >= ", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < ", filters.To)
	}
	query := `SELECT occurred_at, actor, action, entity, entity_id, source_service, COALESCE(context::text, '') FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY occurred_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &row.SourceService, &row.Context); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
