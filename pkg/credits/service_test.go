package credits

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore keeps grants in memory and mirrors the store contract,
// including the conditional single-statement debit semantics.
type stubStore struct {
	mu        sync.Mutex
	byPIN     map[string]*Grant
	byPayment map[string]*Grant

	createErr error
	getErr    error
	debitErr  error
}

func newStubStore() *stubStore {
	return &stubStore{
		byPIN:     map[string]*Grant{},
		byPayment: map[string]*Grant{},
	}
}

func (store *stubStore) GetByPIN(_ context.Context, pin PINCode) (Grant, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getErr != nil {
		return Grant{}, store.getErr
	}
	grant, ok := store.byPIN[pin.String()]
	if !ok {
		return Grant{}, ErrUnknownPIN
	}
	return *grant, nil
}

func (store *stubStore) GetByPaymentID(_ context.Context, paymentID PaymentID) (Grant, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getErr != nil {
		return Grant{}, store.getErr
	}
	grant, ok := store.byPayment[paymentID.String()]
	if !ok {
		return Grant{}, ErrUnknownPayment
	}
	return *grant, nil
}

func (store *stubStore) Create(_ context.Context, input GrantInput) (Grant, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.createErr != nil {
		return Grant{}, store.createErr
	}
	if _, exists := store.byPayment[input.PaymentID.String()]; exists {
		return Grant{}, ErrDuplicatePayment
	}
	if _, exists := store.byPIN[input.PIN.String()]; exists {
		return Grant{}, ErrDuplicatePIN
	}
	grant := &Grant{
		PIN:            input.PIN,
		Balance:        input.Balance,
		Granted:        input.Granted,
		Plan:           input.Plan,
		OwnerContact:   input.OwnerContact,
		PaymentID:      input.PaymentID,
		Metadata:       input.Metadata,
		CreatedUnixUTC: input.CreatedUnixUTC,
	}
	store.byPIN[input.PIN.String()] = grant
	store.byPayment[input.PaymentID.String()] = grant
	return *grant, nil
}

func (store *stubStore) DebitOne(_ context.Context, pin PINCode) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.debitErr != nil {
		return 0, store.debitErr
	}
	grant, ok := store.byPIN[pin.String()]
	if !ok {
		return 0, ErrUnknownPIN
	}
	if grant.Balance <= 0 {
		return 0, ErrBalanceExhausted
	}
	grant.Balance--
	return grant.Balance, nil
}

func (store *stubStore) balance(test *testing.T, pin PINCode) int64 {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	grant, ok := store.byPIN[pin.String()]
	if !ok {
		test.Fatalf("no grant for pin %s", pin.String())
	}
	return grant.Balance
}

// stubGenerator emits the configured pins in order and falls back to a
// counter, so collision scenarios are scriptable.
type stubGenerator struct {
	mu      sync.Mutex
	pins    []string
	counter int
	err     error
}

func (generator *stubGenerator) NewPIN() (PINCode, error) {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	if generator.err != nil {
		return PINCode{}, generator.err
	}
	if len(generator.pins) > 0 {
		next := generator.pins[0]
		generator.pins = generator.pins[1:]
		return NewPINCode(next)
	}
	generator.counter++
	return NewPINCode(fmt.Sprintf("AAAA-BBBB-%04d", generator.counter))
}

type stubSplitter struct {
	name SplitName
	err  error
}

func (splitter *stubSplitter) SplitName(context.Context, string) (SplitName, error) {
	if splitter.err != nil {
		return SplitName{}, splitter.err
	}
	return splitter.name, nil
}

type stubNotifier struct {
	mu        sync.Mutex
	delivered []PINCode
	err       error
}

func (notifier *stubNotifier) NotifyGrant(_ context.Context, _ Contact, pin PINCode, _ int64, _ string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.delivered = append(notifier.delivered, pin)
	if notifier.err != nil {
		return notifier.err
	}
	return nil
}

func (notifier *stubNotifier) deliveries() int {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return len(notifier.delivered)
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func mustNewService(test *testing.T, store Store, generator Generator, splitter NameSplitter, notifier Notifier, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, generator, splitter, notifier, func() int64 { return 1_700_000_000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPaymentEvent(test *testing.T, paymentID string, amount int64) PaymentEvent {
	test.Helper()
	event, err := NewPaymentEvent(paymentID, amount, "buyer@example.com", "{}")
	if err != nil {
		test.Fatalf("payment event: %v", err)
	}
	return event
}

func mustPIN(test *testing.T, raw string) PINCode {
	test.Helper()
	pin, err := NewPINCode(raw)
	if err != nil {
		test.Fatalf("pin: %v", err)
	}
	return pin
}

func defaultSplitName() SplitName {
	return SplitName{FamilyName: "徳川", GivenName: "家康"}
}
