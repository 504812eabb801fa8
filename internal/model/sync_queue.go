package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncOperation is the ESL mutation a queue item requests
type SyncOperation string

const (
	OperationCreate SyncOperation = "create"
	OperationUpdate SyncOperation = "update"
	OperationDelete SyncOperation = "delete"
)

// SyncStatus is the queue item state. Transitions:
// pending -> syncing -> succeeded | pending (retry) | failed.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusSyncing   SyncStatus = "syncing"
	StatusSucceeded SyncStatus = "succeeded"
	StatusFailed    SyncStatus = "failed"
)

// Terminal reports whether no automatic transition leaves this status
func (s SyncStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SyncQueueItem is one pending ESL mutation for a product. Rows are kept
// after reaching a terminal state.
type SyncQueueItem struct {
	ID            uint          `json:"id" gorm:"primarykey"`
	ProductID     uint          `json:"product_id" gorm:"not null;index:idx_queue_product_status,priority:1"`
	TenantID      uuid.UUID     `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Operation     SyncOperation `json:"operation" gorm:"type:varchar(16);not null"`
	Status        SyncStatus    `json:"status" gorm:"type:varchar(16);not null;index:idx_queue_status_due,priority:1;index:idx_queue_product_status,priority:2"`
	Attempts      int           `json:"attempts" gorm:"not null;default:0"`
	LastError     string        `json:"last_error,omitempty" gorm:"type:text"`
	ErrorKind     string        `json:"error_kind,omitempty" gorm:"type:varchar(16)"`
	NextAttemptAt time.Time     `json:"next_attempt_at" gorm:"not null;index:idx_queue_status_due,priority:2"`
	LatencyMs     int64         `json:"latency_ms"`
	ClaimedAt     *time.Time    `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
