package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/seimei-ai/seimei/pkg/credits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintPINCode     = "uniq_grant_accounts_pin_code"
	constraintPaymentID   = "uniq_grant_accounts_source_payment_id"
	columnPINCode         = "pin_code"
	columnSourcePaymentID = "source_payment_id"
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectGrant     = "grant"
	errorSubjectBalance   = "balance"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeDebit        = "debit"
	errorCodeInvalid      = "invalid"
	errorCodeNotFound     = "not_found"
	errorCodeInsufficient = "insufficient"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetByPIN loads a grant by its credential.
func (store *Store) GetByPIN(ctx context.Context, pin credits.PINCode) (credits.Grant, error) {
	var row GrantAccount
	err := store.db.WithContext(ctx).
		Where("pin_code = ?", pin.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeNotFound, credits.ErrUnknownPIN)
	}
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, unavailable(err))
	}
	return mapGrant(row)
}

// GetByPaymentID loads a grant by the payment event that funded it.
func (store *Store) GetByPaymentID(ctx context.Context, paymentID credits.PaymentID) (credits.Grant, error) {
	var row GrantAccount
	err := store.db.WithContext(ctx).
		Where("source_payment_id = ?", paymentID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeNotFound, credits.ErrUnknownPayment)
	}
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, unavailable(err))
	}
	return mapGrant(row)
}

// Create inserts one grant. Unique violations surface as
// ErrDuplicatePIN or ErrDuplicatePayment depending on the constraint.
func (store *Store) Create(ctx context.Context, input credits.GrantInput) (credits.Grant, error) {
	row := GrantAccount{
		PINCode:         input.PIN.String(),
		Balance:         input.Balance,
		Granted:         input.Granted,
		Plan:            input.Plan,
		OwnerContact:    input.OwnerContact.String(),
		SourcePaymentID: input.PaymentID.String(),
		Metadata:        datatypesJSON(input.Metadata.String()),
		CreatedAt:       time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() || input.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if duplicateErr := classifyDuplicate(err); duplicateErr != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeDuplicate, duplicateErr)
	}
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeCreate, unavailable(err))
	}
	return mapGrant(row)
}

// DebitOne decrements one unit of balance in a single conditional
// update. The balance never goes below zero; concurrent debits against
// the same credential succeed at most balance times.
func (store *Store) DebitOne(ctx context.Context, pin credits.PINCode) (int64, error) {
	var remaining int64
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.
			Model(&GrantAccount{}).
			Where("pin_code = ? AND balance > 0", pin.String()).
			Update("balance", gorm.Expr("balance - ?", 1))
		if result.Error != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeDebit, unavailable(result.Error))
		}
		if result.RowsAffected == 0 {
			var row GrantAccount
			lookupErr := transaction.Where("pin_code = ?", pin.String()).Take(&row).Error
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return wrapStoreError(errorSubjectBalance, errorCodeNotFound, credits.ErrUnknownPIN)
			}
			if lookupErr != nil {
				return wrapStoreError(errorSubjectBalance, errorCodeDebit, unavailable(lookupErr))
			}
			return wrapStoreError(errorSubjectBalance, errorCodeInsufficient, credits.ErrBalanceExhausted)
		}
		var row GrantAccount
		if lookupErr := transaction.Where("pin_code = ?", pin.String()).Take(&row).Error; lookupErr != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeDebit, unavailable(lookupErr))
		}
		remaining = row.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

// unavailable marks unexpected database failures as transient so the
// caller (and the payment provider retrying on non-2xx) can retry.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
}

func mapGrant(row GrantAccount) (credits.Grant, error) {
	pin, err := credits.NewPINCode(row.PINCode)
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	paymentID, err := credits.NewPaymentID(row.SourcePaymentID)
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	contact, err := credits.NewContact(row.OwnerContact)
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	metadata, err := credits.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return credits.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	return credits.Grant{
		PIN:            pin,
		Balance:        row.Balance,
		Granted:        row.Granted,
		Plan:           row.Plan,
		OwnerContact:   contact,
		PaymentID:      paymentID,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// classifyDuplicate resolves a unique violation to the constraint that
// fired. Postgres names the constraint; sqlite only reports the column
// in the message.
func classifyDuplicate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		switch pgErr.ConstraintName {
		case constraintPINCode:
			return credits.ErrDuplicatePIN
		case constraintPaymentID:
			return credits.ErrDuplicatePayment
		}
		return credits.ErrDuplicatePIN
	}
	var sqliteErr *gosqlite.Error
	isSQLiteConstraint := errors.As(err, &sqliteErr) && sqliteErr.Code()&0xFF == sqliteConstraintCode
	if isSQLiteConstraint || errors.Is(err, gorm.ErrDuplicatedKey) {
		message := err.Error()
		if strings.Contains(message, columnSourcePaymentID) {
			return credits.ErrDuplicatePayment
		}
		if strings.Contains(message, columnPINCode) {
			return credits.ErrDuplicatePIN
		}
		return credits.ErrDuplicatePIN
	}
	return nil
}
