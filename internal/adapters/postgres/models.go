package postgres

import (
	"time"

	"github.com/google/uuid"
)

type dmcaRequestModel struct {
	RequestID   uuid.UUID `gorm:"column:request_id;type:uuid;primaryKey"`
	SessionHash string    `gorm:"column:session_hash"`
	EmailMasked string    `gorm:"column:email_masked"`
	URL         string    `gorm:"column:url"`
	ReceivedAt  time.Time `gorm:"column:received_at"`
}

func (dmcaRequestModel) TableName() string { return "dmca_requests" }

type securityOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (securityOutboxModel) TableName() string { return "security_event_outbox" }
