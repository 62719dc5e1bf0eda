package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/logline-run/logline/internal/workerpool"
)

// PostgresStore implements Store on top of the timeline_spans table
// (see internal/timeline/migrations). Storage errors are retried up to
// three times with exponential backoff before surfacing to the caller.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

const spanColumns = `
	id, timestamp, logline_id, author, title, payload,
	contract_id, workflow_id, flow_id, caused_by, signature,
	status, verification_status, tenant_id, organization_id, user_id,
	span_type, visibility, metadata, delta_s, replay_count, replay_from,
	created_at`

func withRetry(ctx context.Context, fn func() error) error {
	return workerpool.RetryWithBackoff(ctx, 3, 100*time.Millisecond, fn)
}

// Append inserts span. Callers must have already verified its signature
// and resolved caused_by/tenant checks; Append itself re-checks caused_by
// existence and tenant activity at the storage layer as a last guard.
func (s *PostgresStore) Append(ctx context.Context, span Span) error {
	if span.CausedBy != nil {
		if _, err := s.Get(ctx, *span.CausedBy); err != nil {
			return ErrCausedByMissing{ID: *span.CausedBy}
		}
	}
	if span.TenantID != nil {
		active, err := s.TenantActive(ctx, *span.TenantID)
		if err != nil {
			return err
		}
		if !active {
			return ErrTenantInactive{TenantID: *span.TenantID}
		}
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO timeline_spans (`+spanColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
				$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		`,
			span.ID, span.Timestamp, span.LogLineID, span.Author, span.Title, []byte(span.Payload),
			span.ContractID, span.WorkflowID, span.FlowID, span.CausedBy, span.Signature,
			span.Status, span.VerificationStatus, span.TenantID, span.OrganizationID, span.UserID,
			span.SpanType, span.Visibility, nullableBytes(span.Metadata), span.DeltaS, span.ReplayCount, span.ReplayFrom,
			span.CreatedAt,
		)
		return err
	})
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

// Get fetches one span by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Span, error) {
	var span Span
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `SELECT `+spanColumns+` FROM timeline_spans WHERE id = $1`, id)
		var scanErr error
		span, scanErr = scanSpan(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Span{}, ErrNotFound{ID: id}
	}
	return span, err
}

// Query lists spans matching the filter, newest first.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Span, error) {
	where := "WHERE 1=1"
	args := []any{}
	argN := 1

	addFilter := func(clause, value string) {
		if value == "" {
			return
		}
		where += fmt.Sprintf(" AND %s = $%d", clause, argN)
		args = append(args, value)
		argN++
	}
	addFilter("tenant_id", q.TenantID)
	addFilter("contract_id", q.ContractID)
	addFilter("author", q.Author)
	if q.Since != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", argN)
		args = append(args, *q.Since)
		argN++
	}
	if q.Until != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", argN)
		args = append(args, *q.Until)
		argN++
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + spanColumns + ` FROM timeline_spans ` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, q.Offset)

	var spans []Span
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		spans = nil
		for rows.Next() {
			span, err := scanSpan(rows)
			if err != nil {
				return err
			}
			spans = append(spans, span)
		}
		return rows.Err()
	})
	return spans, err
}

// TenantTimeline lists spans visible to userID within tenantID, applying
// the public/organization/private visibility filter.
func (s *PostgresStore) TenantTimeline(ctx context.Context, tenantID, userID string, limit, offset int) ([]Span, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var spans []Span
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryxContext(ctx, `
			SELECT `+spanColumns+` FROM timeline_spans
			WHERE tenant_id = $1
			  AND (
			    visibility = 'public'
			    OR (visibility = 'organization' AND organization_id IN (
			        SELECT organization_id FROM timeline_spans WHERE user_id = $2 AND organization_id IS NOT NULL
			    ))
			    OR (visibility = 'private' AND user_id = $2)
			  )
			ORDER BY timestamp DESC, id DESC
			LIMIT $3 OFFSET $4
		`, tenantID, userID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		spans = nil
		for rows.Next() {
			span, err := scanSpan(rows)
			if err != nil {
				return err
			}
			spans = append(spans, span)
		}
		return rows.Err()
	})
	return spans, err
}

// Stats computes the tenant aggregate directly; the cron-driven refresh
// job (see stats_cache.go) caches this so hot-path callers avoid
// recomputing it on every request.
func (s *PostgresStore) Stats(ctx context.Context, tenantID string) (Stats, error) {
	var stats Stats
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `
			SELECT
				COUNT(*) AS total_spans,
				COUNT(DISTINCT user_id) AS active_users,
				COUNT(*) FILTER (WHERE created_at >= date_trunc('day', now())) AS spans_today,
				COUNT(*) FILTER (WHERE created_at >= date_trunc('week', now())) AS spans_this_week,
				COALESCE(MAX(timestamp), to_timestamp(0)) AS latest_activity
			FROM timeline_spans WHERE tenant_id = $1
		`, tenantID)

		var latest time.Time
		if err := row.Scan(&stats.TotalSpans, &stats.ActiveUsers, &stats.SpansToday, &stats.SpansThisWeek, &latest); err != nil {
			return err
		}
		stats.LatestActivity = latest.UTC().Format(time.RFC3339)

		authorRow := s.db.QueryRowxContext(ctx, `
			SELECT author FROM timeline_spans WHERE tenant_id = $1
			GROUP BY author ORDER BY COUNT(*) DESC LIMIT 1
		`, tenantID)
		var author string
		if err := authorRow.Scan(&author); err == nil {
			stats.MostActiveAuthor = author
		}
		return nil
	})
	return stats, err
}

// IncrementReplayCount is the sole mutation the append-only trigger
// permits: it bumps replay_count and returns the updated row.
func (s *PostgresStore) IncrementReplayCount(ctx context.Context, id string) (Span, error) {
	var span Span
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE timeline_spans SET replay_count = replay_count + 1 WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return Span{}, err
	}
	return s.Get(ctx, id)
}

// TenantActive reports whether tenantID refers to an active tenant. The
// tenants table is owned by Gateway's auth configuration; Timeline only
// reads it to enforce the append invariant.
func (s *PostgresStore) TenantActive(ctx context.Context, tenantID string) (bool, error) {
	var active bool
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `SELECT active FROM tenants WHERE tenant_id = $1`, tenantID)
		err := row.Scan(&active)
		if err == sql.ErrNoRows {
			active = false
			return nil
		}
		return err
	})
	return active, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row rowScanner) (Span, error) {
	var span Span
	var payload, metadata []byte
	var contractID, workflowID, flowID, causedBy, tenantID, orgID, userID, replayFrom sql.NullString

	err := row.Scan(
		&span.ID, &span.Timestamp, &span.LogLineID, &span.Author, &span.Title, &payload,
		&contractID, &workflowID, &flowID, &causedBy, &span.Signature,
		&span.Status, &span.VerificationStatus, &tenantID, &orgID, &userID,
		&span.SpanType, &span.Visibility, &metadata, &span.DeltaS, &span.ReplayCount, &replayFrom,
		&span.CreatedAt,
	)
	if err != nil {
		return Span{}, err
	}

	span.Payload = payload
	span.Metadata = metadata
	span.ContractID = nullableString(contractID)
	span.WorkflowID = nullableString(workflowID)
	span.FlowID = nullableString(flowID)
	span.CausedBy = nullableString(causedBy)
	span.TenantID = nullableString(tenantID)
	span.OrganizationID = nullableString(orgID)
	span.UserID = nullableString(userID)
	span.ReplayFrom = nullableString(replayFrom)

	return span, nil
}

func nullableString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
