package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceSystem identifies the catalog back-end a tenant store is connected to
type SourceSystem string

const (
	SourceNCR     SourceSystem = "ncr"
	SourceSquare  SourceSystem = "square"
	SourceClover  SourceSystem = "clover"
	SourceShopify SourceSystem = "shopify"
)

// Metadata keys stored on a tenant store record
const (
	MetaAccessToken    = "access_token"
	MetaRefreshToken   = "refresh_token"
	MetaTokenExpiresAt = "token_expires_at" // RFC3339, UTC
	MetaTimezone       = "timezone"
	MetaCurrency       = "currency"
)

// TenantStore is one merchant store connected to a source system. It is the
// multi-tenant isolation boundary: product, queue and schedule rows carry its ID.
type TenantStore struct {
	ID            uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	Name          string            `json:"name" gorm:"type:varchar(255)"`
	SourceSystem  SourceSystem      `json:"source_system" gorm:"type:varchar(32);not null;uniqueIndex:idx_tenant_source_store,priority:1"`
	SourceStoreID string            `json:"source_store_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_tenant_source_store,priority:2"`
	ESLStoreCode  string            `json:"esl_store_code" gorm:"type:varchar(100);not null"`
	Metadata      datatypes.JSONMap `json:"-" gorm:"type:jsonb"`
	Active        bool              `json:"active" gorm:"not null;index"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is set
func (t *TenantStore) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// MetaString returns a metadata value as a string, or "" if absent
func (t *TenantStore) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	switch v := t.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Timezone returns the store's IANA timezone name, UTC when unset
func (t *TenantStore) Timezone() string {
	if tz := strings.TrimSpace(t.MetaString(MetaTimezone)); tz != "" {
		return tz
	}
	return "UTC"
}

// Location loads the store's timezone
func (t *TenantStore) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(t.Timezone())
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q for tenant %s: %w", t.Timezone(), t.ID, err)
	}
	return loc, nil
}

// Currency returns the store's ISO currency code, USD when unset
func (t *TenantStore) Currency() string {
	if c := strings.ToUpper(strings.TrimSpace(t.MetaString(MetaCurrency))); c != "" {
		return c
	}
	return "USD"
}

// AccessToken returns the stored bearer credential
func (t *TenantStore) AccessToken() string {
	return t.MetaString(MetaAccessToken)
}

// RefreshToken returns the stored refresh credential
func (t *TenantStore) RefreshToken() string {
	return t.MetaString(MetaRefreshToken)
}

// TokenExpiresAt parses the stored token expiry. ok is false when the key is
// missing or unparsable.
func (t *TenantStore) TokenExpiresAt() (time.Time, bool) {
	raw := t.MetaString(MetaTokenExpiresAt)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
