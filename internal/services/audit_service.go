package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	pkglogger "github.com/airwaves/stationcms/pkg/logger"
	"github.com/google/uuid"
)

// AuditLogRepository persists audit records
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

// AuditEntry describes one audited password or login operation
type AuditEntry struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	Success       bool
	FailureReason string
	Duration      time.Duration
	Metadata      models.AuditMetadata
}

// AuditService writes audit events to the structured log and to the
// audit_logs table. Persistence failures never fail the audited operation.
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: pkglogger.NewAuditLogger(logger),
		logger:      logger,
	}
}

func (s *AuditService) Log(ctx context.Context, entry AuditEntry) {
	event := pkglogger.AuditEvent{
		EventType:     entry.EventType,
		UserID:        entry.UserID,
		Email:         entry.Email,
		IPAddress:     entry.IPAddress,
		Success:       entry.Success,
		FailureReason: entry.FailureReason,
		Duration:      entry.Duration,
		Metadata:      stringifyMetadata(entry.Metadata),
	}
	if entry.EventType == models.AuditEventTypeLogin {
		s.auditLogger.LogAuthAttempt(ctx, event)
	} else {
		s.auditLogger.LogPasswordEvent(ctx, event)
	}

	if s.repo == nil {
		return
	}

	record := &models.AuditLog{
		EventType:  entry.EventType,
		Success:    entry.Success,
		DurationMS: entry.Duration.Milliseconds(),
		Metadata:   entry.Metadata,
	}
	if id, err := uuid.Parse(entry.UserID); err == nil {
		record.ActorID = &id
	}
	if entry.Email != "" {
		record.Email = &entry.Email
	}
	if entry.FailureReason != "" {
		record.FailureReason = &entry.FailureReason
	}
	if entry.IPAddress != "" {
		record.IPAddress = &entry.IPAddress
	}

	if _, err := s.repo.Create(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", entry.EventType),
			slog.Any("error", err))
	}
}

func stringifyMetadata(md models.AuditMetadata) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = slog.AnyValue(val).String()
		}
	}
	return out
}
