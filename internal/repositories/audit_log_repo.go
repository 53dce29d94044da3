package repositories

import (
	"context"
	"fmt"

	"github.com/airwaves/stationcms/internal/database"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditLogColumns = `id, event_type, actor_id, email, success, failure_reason, ip_address, duration_ms, metadata, created_at`

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.EventType, &log.ActorID, &log.Email, &log.Success,
		&log.FailureReason, &log.IPAddress, &log.DurationMS, &log.Metadata,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Metadata == nil {
		log.Metadata = models.AuditMetadata{}
	}

	query := `
		INSERT INTO audit_logs (id, event_type, actor_id, email, success, failure_reason, ip_address, duration_ms, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + auditLogColumns

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.ID, log.EventType, log.ActorID, log.Email, log.Success,
		log.FailureReason, log.IPAddress, log.DurationMS, log.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}
