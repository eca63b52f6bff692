package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Audit  ports.AuditRepository
	Outbox ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Audit:  &auditRepository{db: db},
		Outbox: &outboxRepository{db: db},
	}
}

type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) InsertDMCARecord(ctx context.Context, record domain.DMCARecord) error {
	row, err := toDMCARequestModel(record)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func toDMCARequestModel(record domain.DMCARecord) (dmcaRequestModel, error) {
	id, err := uuid.Parse(record.RequestID)
	if err != nil {
		return dmcaRequestModel{}, fmt.Errorf("%w: request id: %v", domain.ErrInvalidInput, err)
	}
	return dmcaRequestModel{
		RequestID:   id,
		SessionHash: record.SessionHash,
		EmailMasked: record.EmailMasked,
		URL:         record.URL,
		ReceivedAt:  record.ReceivedAt.UTC(),
	}, nil
}
