package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/models"
)

// DecisionAuditRepository persists rate-limit decisions for compliance
// review and admin reporting, against a decision_events table shaped as:
//
//	id uuid primary key, outcome text, method text, path text,
//	identity_id text, group_name text, rank int, rule_reason text,
//	limited_for_seconds bigint, occurred_at timestamptz
type DecisionAuditRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewDecisionAuditRepository creates a new decision audit repository.
func NewDecisionAuditRepository(db *pgxpool.Pool, logger *zap.Logger) *DecisionAuditRepository {
	return &DecisionAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Record inserts a decision event.
func (r *DecisionAuditRepository) Record(ctx context.Context, event *models.DecisionEvent) error {
	start := time.Now()
	defer func() {
		r.logger.Debug("decision audit record completed",
			zap.Duration("duration", time.Since(start)),
			zap.String("outcome", string(event.Outcome)))
	}()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	query := `
		INSERT INTO decision_events (
			id, outcome, method, path, identity_id, group_name, rank,
			rule_reason, limited_for_seconds, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		event.ID, event.Outcome, event.Method, event.Path, event.IdentityID,
		event.Group, event.Rank, event.RuleReason, int64(event.LimitedFor.Seconds()),
		event.OccurredAt,
	)
	if err != nil {
		r.logger.Error("failed to record decision event",
			zap.Error(err),
			zap.String("identity_id", event.IdentityID))
		return fmt.Errorf("failed to record decision event: %w", err)
	}

	return nil
}

// List retrieves decision events matching the given query.
func (r *DecisionAuditRepository) List(ctx context.Context, q *models.DecisionQuery) ([]*models.DecisionEvent, error) {
	var conditions []string
	var args []interface{}
	argCount := 1

	if q.IdentityID != nil {
		conditions = append(conditions, fmt.Sprintf("identity_id = $%d", argCount))
		args = append(args, *q.IdentityID)
		argCount++
	}
	if q.Group != nil {
		conditions = append(conditions, fmt.Sprintf("group_name = $%d", argCount))
		args = append(args, *q.Group)
		argCount++
	}
	if q.Outcome != nil {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argCount))
		args = append(args, *q.Outcome)
		argCount++
	}
	if q.Since != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argCount))
		args = append(args, *q.Since)
		argCount++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	offset := 0
	if q.Offset > 0 {
		offset = q.Offset
	}

	query := fmt.Sprintf(`
		SELECT id, outcome, method, path, identity_id, group_name, rank,
		       rule_reason, limited_for_seconds, occurred_at
		FROM decision_events
		%s
		ORDER BY occurred_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, argCount, argCount+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list decision events", zap.Error(err))
		return nil, fmt.Errorf("failed to list decision events: %w", err)
	}
	defer rows.Close()

	var events []*models.DecisionEvent
	for rows.Next() {
		var event models.DecisionEvent
		var limitedForSeconds int64
		if err := rows.Scan(
			&event.ID, &event.Outcome, &event.Method, &event.Path, &event.IdentityID,
			&event.Group, &event.Rank, &event.RuleReason, &limitedForSeconds, &event.OccurredAt,
		); err != nil {
			r.logger.Error("failed to scan decision event", zap.Error(err))
			return nil, fmt.Errorf("failed to scan decision event: %w", err)
		}
		event.LimitedFor = time.Duration(limitedForSeconds) * time.Second
		events = append(events, &event)
	}

	return events, nil
}

// GetByID retrieves a single decision event by id, returning ErrNotFound if
// no row matches.
func (r *DecisionAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionEvent, error) {
	query := `
		SELECT id, outcome, method, path, identity_id, group_name, rank,
		       rule_reason, limited_for_seconds, occurred_at
		FROM decision_events
		WHERE id = $1`

	var event models.DecisionEvent
	var limitedForSeconds int64
	err := r.db.QueryRow(ctx, query, id).Scan(
		&event.ID, &event.Outcome, &event.Method, &event.Path, &event.IdentityID,
		&event.Group, &event.Rank, &event.RuleReason, &limitedForSeconds, &event.OccurredAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		r.logger.Error("failed to get decision event", zap.Error(err), zap.String("id", id.String()))
		return nil, fmt.Errorf("failed to get decision event: %w", err)
	}
	event.LimitedFor = time.Duration(limitedForSeconds) * time.Second

	return &event, nil
}

// GetStats aggregates decision counts for a group, backing the admin
// reporting endpoint.
func (r *DecisionAuditRepository) GetStats(ctx context.Context, group string) (*models.DecisionStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_decisions,
			COUNT(*) FILTER (WHERE outcome = 'admitted') AS admitted_count,
			COUNT(*) FILTER (WHERE outcome = 'blocked') AS blocked_count,
			COUNT(*) FILTER (WHERE outcome = 'delayed') AS delayed_count
		FROM decision_events
		WHERE group_name = $1`

	var stats models.DecisionStats
	stats.Group = group
	stats.LastUpdated = time.Now()

	err := r.db.QueryRow(ctx, query, group).Scan(
		&stats.TotalDecisions, &stats.AdmittedCount, &stats.BlockedCount, &stats.DelayedCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &stats, nil
		}
		r.logger.Error("failed to get decision stats",
			zap.Error(err),
			zap.String("group", group))
		return nil, fmt.Errorf("failed to get decision stats: %w", err)
	}

	return &stats, nil
}

// CleanupOlderThan removes decision events older than the given cutoff,
// bounding the audit trail's retention.
func (r *DecisionAuditRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	start := time.Now()
	defer func() {
		r.logger.Debug("decision audit cleanup completed", zap.Duration("duration", time.Since(start)))
	}()

	query := `
		DELETE FROM decision_events
		WHERE id IN (
			SELECT id FROM decision_events WHERE occurred_at < $1 LIMIT $2
		)`

	result, err := r.db.Exec(ctx, query, cutoff, batchSize)
	if err != nil {
		r.logger.Error("failed to cleanup decision events", zap.Error(err))
		return 0, fmt.Errorf("failed to cleanup decision events: %w", err)
	}

	count := int(result.RowsAffected())
	if count > 0 {
		r.logger.Info("cleaned up expired decision events", zap.Int("count", count))
	}

	return count, nil
}

// HealthCheck performs a basic health check on the database connection.
func (r *DecisionAuditRepository) HealthCheck(ctx context.Context) error {
	var result int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		r.logger.Error("database health check failed", zap.Error(err))
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
