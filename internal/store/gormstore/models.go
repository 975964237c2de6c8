package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GrantAccount mirrors the grant_accounts table. Rows are never
// deleted; only Balance (and UpdatedAt) change after creation.
type GrantAccount struct {
	AccountID       string         `gorm:"type:uuid;primaryKey"`
	PINCode         string         `gorm:"column:pin_code;not null;uniqueIndex:uniq_grant_accounts_pin_code"`
	Balance         int64          `gorm:"not null"`
	Granted         int64          `gorm:"not null"`
	Plan            string         `gorm:"not null"`
	OwnerContact    string         `gorm:"not null"`
	SourcePaymentID string         `gorm:"not null;uniqueIndex:uniq_grant_accounts_source_payment_id"`
	Metadata        datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (GrantAccount) TableName() string { return "grant_accounts" }

func (account *GrantAccount) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}
