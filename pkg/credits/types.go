package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PINCode is the opaque credential tied to one grant account.
type PINCode struct {
	value string
}

// PaymentID identifies the external payment event that funded a grant.
type PaymentID struct {
	value string
}

// Contact is the notification destination recorded at issuance.
type Contact struct {
	value string
}

// MetadataJSON stores arbitrary provider event metadata.
type MetadataJSON struct {
	value string
}

// NewPINCode validates and normalizes a pin code.
func NewPINCode(raw string) (PINCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PINCode{}, fmt.Errorf("%w: empty value", ErrInvalidPINCode)
	}
	return PINCode{value: trimmed}, nil
}

// String returns the normalized credential.
func (pin PINCode) String() string {
	return pin.value
}

// NewPaymentID validates and normalizes a payment event id.
func NewPaymentID(raw string) (PaymentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentID{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentID)
	}
	return PaymentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PaymentID) String() string {
	return id.value
}

// NewContact validates and normalizes a contact address.
func NewContact(raw string) (Contact, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Contact{}, fmt.Errorf("%w: empty value", ErrInvalidContact)
	}
	if !strings.Contains(trimmed, "@") {
		return Contact{}, fmt.Errorf("%w: not an address", ErrInvalidContact)
	}
	return Contact{value: trimmed}, nil
}

// String returns the normalized address.
func (contact Contact) String() string {
	return contact.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// OutputMode selects which name components the plain-text variant emits.
type OutputMode string

const (
	OutputModeBoth   OutputMode = "both"
	OutputModeFamily OutputMode = "family"
	OutputModeGiven  OutputMode = "given"
)

// ParseOutputMode normalizes a raw mode, defaulting empty input to both.
func ParseOutputMode(raw string) (OutputMode, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch OutputMode(trimmed) {
	case "":
		return OutputModeBoth, nil
	case OutputModeBoth:
		return OutputModeBoth, nil
	case OutputModeFamily:
		return OutputModeFamily, nil
	case OutputModeGiven:
		return OutputModeGiven, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutputMode, raw)
}

// String returns the mode label.
func (mode OutputMode) String() string {
	return string(mode)
}

// PaymentEvent is a verified payment notification from the provider.
type PaymentEvent struct {
	PaymentID  PaymentID
	AmountPaid int64
	Payer      Contact
	Metadata   MetadataJSON
}

// NewPaymentEvent validates the raw fields of a provider notification.
func NewPaymentEvent(paymentID string, amountPaid int64, payerContact string, metadataJSON string) (PaymentEvent, error) {
	id, err := NewPaymentID(paymentID)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if amountPaid <= 0 {
		return PaymentEvent{}, fmt.Errorf("%w: amount must be positive", ErrInvalidEvent)
	}
	payer, err := NewContact(payerContact)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	metadata, err := NewMetadataJSON(metadataJSON)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return PaymentEvent{
		PaymentID:  id,
		AmountPaid: amountPaid,
		Payer:      payer,
		Metadata:   metadata,
	}, nil
}

// Grant is the durable record of a purchased balance.
type Grant struct {
	PIN            PINCode
	Balance        int64
	Granted        int64
	Plan           string
	OwnerContact   Contact
	PaymentID      PaymentID
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// GrantInput carries the fields of a grant to be created.
type GrantInput struct {
	PIN            PINCode
	Balance        int64
	Granted        int64
	Plan           string
	OwnerContact   Contact
	PaymentID      PaymentID
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// IssuedGrant is the outcome of processing one payment event.
type IssuedGrant struct {
	PIN           PINCode
	Credits       int64
	Plan          string
	AlreadyIssued bool
}

// SplitName is the structured result of the external processing call.
type SplitName struct {
	FamilyName string
	GivenName  string
}

// SplitOutcome pairs the processing result with the post-debit balance.
type SplitOutcome struct {
	Name             SplitName
	RemainingCredits int64
}

// BalanceView is the read-only answer of a credential check.
type BalanceView struct {
	Valid            bool
	RemainingCredits int64
	Plan             string
}

// Store is the persistence contract used by Service. Balance mutation
// happens only through DebitOne, which must be a single conditional
// update, never a read-then-write sequence.
type Store interface {
	GetByPIN(ctx context.Context, pin PINCode) (Grant, error)
	GetByPaymentID(ctx context.Context, paymentID PaymentID) (Grant, error)
	Create(ctx context.Context, input GrantInput) (Grant, error)
	DebitOne(ctx context.Context, pin PINCode) (int64, error)
}

// Generator produces candidate credentials.
type Generator interface {
	NewPIN() (PINCode, error)
}

// NameSplitter is the external processing collaborator.
type NameSplitter interface {
	SplitName(ctx context.Context, fullName string) (SplitName, error)
}

// Notifier delivers the issued credential to the purchaser.
type Notifier interface {
	NotifyGrant(ctx context.Context, contact Contact, pin PINCode, creditsGranted int64, plan string) error
}
