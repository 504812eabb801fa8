package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RepeatKind is the recurrence of a price schedule
type RepeatKind string

const (
	RepeatNone    RepeatKind = "none"
	RepeatDaily   RepeatKind = "daily"
	RepeatWeekly  RepeatKind = "weekly"
	RepeatMonthly RepeatKind = "monthly"
)

// ScheduleAction is what the next firing does to prices
type ScheduleAction string

const (
	// ActionApply sets the scheduled price at a window start
	ActionApply ScheduleAction = "apply"
	// ActionRevert restores the baseline price at a window end
	ActionRevert ScheduleAction = "revert"
)

// ScheduleItem is one product price change. Exactly one of TargetPrice and
// Percentage is set.
type ScheduleItem struct {
	ExternalCode  string           `json:"external_code"`
	TargetPrice   *decimal.Decimal `json:"target_price,omitempty"`
	Percentage    *decimal.Decimal `json:"percentage,omitempty"`
	BaselinePrice decimal.Decimal  `json:"baseline_price"`
}

// TimeWindow is a local time-of-day range, "HH:MM". End is optional.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// PriceSchedule is a one-off or repeating price change for a set of products
// at one tenant store. NextTriggerAt is always stored in UTC.
type PriceSchedule struct {
	ID            uint                              `json:"id" gorm:"primarykey"`
	TenantID      uuid.UUID                         `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name          string                            `json:"name" gorm:"type:varchar(255);not null"`
	Items         datatypes.JSONSlice[ScheduleItem] `json:"items"`
	StartAt       time.Time                         `json:"start_at" gorm:"not null"`
	EndAt         *time.Time                        `json:"end_at,omitempty"`
	Repeat        RepeatKind                        `json:"repeat" gorm:"type:varchar(16);not null;default:none"`
	TriggerDays   datatypes.JSONSlice[int]          `json:"trigger_days,omitempty"`
	Windows       datatypes.JSONSlice[TimeWindow]   `json:"windows"`
	NextTriggerAt *time.Time                        `json:"next_trigger_at,omitempty" gorm:"index:idx_schedule_due,priority:2"`
	NextAction    ScheduleAction                    `json:"next_action" gorm:"type:varchar(16);not null;default:apply"`
	Active        bool                              `json:"active" gorm:"not null;index:idx_schedule_due,priority:1"`
	LastRunAt     *time.Time                        `json:"last_run_at,omitempty"`
	LastError     string                            `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time                         `json:"created_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
	DeletedAt     gorm.DeletedAt                    `json:"-" gorm:"index"`
}
