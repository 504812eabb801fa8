package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of a queue item reaching a terminal state
type AuditLog struct {
	ID          uint          `json:"id" gorm:"primarykey"`
	QueueItemID uint          `json:"queue_item_id" gorm:"not null;index"`
	ProductID   uint          `json:"product_id" gorm:"not null;index"`
	TenantID    uuid.UUID     `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Operation   SyncOperation `json:"operation" gorm:"type:varchar(16);not null"`
	Status      SyncStatus    `json:"status" gorm:"type:varchar(16);not null"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty" gorm:"type:text"`
	ErrorKind   string        `json:"error_kind,omitempty" gorm:"type:varchar(16)"`
	LatencyMs   int64         `json:"latency_ms"`
	CreatedAt   time.Time     `json:"created_at" gorm:"index"`
}

// TableName overrides the default table name
func (AuditLog) TableName() string {
	return "sync_audit_logs"
}
