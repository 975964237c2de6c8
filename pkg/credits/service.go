package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service contains the domain logic over a Store and the two external
// collaborators (name splitter and notifier).
type Service struct {
	store           Store
	generator       Generator
	splitter        NameSplitter
	notifier        Notifier
	nowFn           func() int64
	logger          OperationLogger
	tiers           TierTable
	upstreamTimeout time.Duration
	maxPINAttempts  int
}

// NewService wires a Service.
func NewService(store Store, generator Generator, splitter NameSplitter, notifier Notifier, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: generator dependency is nil", ErrInvalidServiceConfig)
	}
	if splitter == nil {
		return nil, fmt.Errorf("%w: splitter dependency is nil", ErrInvalidServiceConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		generator:       generator,
		splitter:        splitter,
		notifier:        notifier,
		nowFn:           now,
		tiers:           DefaultTierTable(),
		upstreamTimeout: defaultUpstreamTimeout,
		maxPINAttempts:  defaultMaxPINAttempts,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Issue turns one verified payment event into a durable grant. A
// re-delivered event (same payment id) returns the previously issued
// credential instead of creating a second grant. The notification is
// attempted on every delivery; its failure never rolls back the grant.
func (service *Service) Issue(ctx context.Context, event PaymentEvent) (IssuedGrant, error) {
	issued, operationError := service.issueGrant(ctx, event)
	service.logOperation(ctx, OperationLog{
		Operation: operationIssue,
		PIN:       issued.PIN,
		PaymentID: event.PaymentID,
		Amount:    issued.Credits,
		Error:     operationError,
	})
	if operationError != nil {
		return IssuedGrant{}, operationError
	}

	if notifyError := service.notifier.NotifyGrant(ctx, event.Payer, issued.PIN, issued.Credits, issued.Plan); notifyError != nil {
		// The grant is authoritative regardless of delivery failure.
		service.logOperation(ctx, OperationLog{
			Operation: operationNotify,
			PIN:       issued.PIN,
			PaymentID: event.PaymentID,
			Amount:    issued.Credits,
			Error:     notifyError,
		})
	}
	return issued, nil
}

func (service *Service) issueGrant(ctx context.Context, event PaymentEvent) (IssuedGrant, error) {
	creditsGranted, planLabel := service.tiers.Resolve(event.AmountPaid)

	for attempt := 0; attempt < service.maxPINAttempts; attempt++ {
		pin, err := service.generator.NewPIN()
		if err != nil {
			return IssuedGrant{}, WrapError(operationIssue, "generator", "entropy", err)
		}
		grant, err := service.store.Create(ctx, GrantInput{
			PIN:            pin,
			Balance:        creditsGranted,
			Granted:        creditsGranted,
			Plan:           planLabel,
			OwnerContact:   event.Payer,
			PaymentID:      event.PaymentID,
			Metadata:       event.Metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err == nil {
			return IssuedGrant{PIN: grant.PIN, Credits: grant.Granted, Plan: grant.Plan}, nil
		}
		if errors.Is(err, ErrDuplicatePayment) {
			existing, lookupError := service.store.GetByPaymentID(ctx, event.PaymentID)
			if lookupError != nil {
				return IssuedGrant{}, lookupError
			}
			return IssuedGrant{PIN: existing.PIN, Credits: existing.Granted, Plan: existing.Plan, AlreadyIssued: true}, nil
		}
		if errors.Is(err, ErrDuplicatePIN) {
			continue
		}
		return IssuedGrant{}, err
	}
	return IssuedGrant{}, WrapError(operationIssue, "generator", "exhausted", ErrEntropyExhausted)
}

// Split debits one unit of balance and delegates the payload to the
// external processing collaborator. The debit commits before the
// upstream call and is not refunded when that call fails.
func (service *Service) Split(ctx context.Context, pin PINCode, fullName string, mode OutputMode) (SplitOutcome, error) {
	outcome, operationError := service.split(ctx, pin, fullName, mode)
	service.logOperation(ctx, OperationLog{
		Operation: operationSplit,
		PIN:       pin,
		Amount:    1,
		Error:     operationError,
	})
	return outcome, operationError
}

func (service *Service) split(ctx context.Context, pin PINCode, fullName string, mode OutputMode) (SplitOutcome, error) {
	if strings.TrimSpace(fullName) == "" {
		return SplitOutcome{}, WrapError(operationSplit, "payload", "empty", ErrInvalidFullName)
	}
	if _, err := ParseOutputMode(mode.String()); err != nil {
		return SplitOutcome{}, WrapError(operationSplit, "payload", "mode", err)
	}

	remaining, err := service.store.DebitOne(ctx, pin)
	if err != nil {
		return SplitOutcome{}, err
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, service.upstreamTimeout)
	defer cancel()
	name, err := service.splitter.SplitName(upstreamCtx, fullName)
	if err != nil {
		if errors.Is(err, ErrUpstreamMalformed) {
			return SplitOutcome{}, WrapError(operationSplit, "upstream", "malformed", err)
		}
		return SplitOutcome{}, WrapError(operationSplit, "upstream", "unavailable", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
	}
	if strings.TrimSpace(name.FamilyName) == "" || strings.TrimSpace(name.GivenName) == "" {
		return SplitOutcome{}, WrapError(operationSplit, "upstream", "malformed", fmt.Errorf("%w: blank name component", ErrUpstreamMalformed))
	}

	return SplitOutcome{Name: name, RemainingCredits: remaining}, nil
}

// Balance reports validity, remaining credits, and the plan label for
// a credential without consuming any balance.
func (service *Service) Balance(ctx context.Context, pin PINCode) (BalanceView, error) {
	grant, err := service.store.GetByPIN(ctx, pin)
	if errors.Is(err, ErrUnknownPIN) {
		return BalanceView{Valid: false}, nil
	}
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationBalance, PIN: pin, Error: err})
		return BalanceView{}, err
	}
	return BalanceView{
		Valid:            true,
		RemainingCredits: grant.Balance,
		Plan:             grant.Plan,
	}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
