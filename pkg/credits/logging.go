package credits

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one credits operation.
type OperationLog struct {
	Operation string
	PIN       PINCode
	PaymentID PaymentID
	Amount    int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTierTable overrides the compiled-in tier configuration.
func WithTierTable(table TierTable) ServiceOption {
	return func(service *Service) {
		service.tiers = table
	}
}

// WithUpstreamTimeout bounds the external processing call.
func WithUpstreamTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.upstreamTimeout = timeout
		}
	}
}

// WithMaxPINAttempts bounds generation retries under credential collisions.
func WithMaxPINAttempts(attempts int) ServiceOption {
	return func(service *Service) {
		if attempts > 0 {
			service.maxPINAttempts = attempts
		}
	}
}

// ZapOperationLogger adapts a zap logger to the OperationLogger contract.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured record per operation outcome.
func (zapLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.PIN.String() != "" {
		fields = append(fields, zap.String("pin_code", maskPIN(entry.PIN)))
	}
	if entry.PaymentID.String() != "" {
		fields = append(fields, zap.String("source_payment_id", entry.PaymentID.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Error != nil {
		zapLogger.logger.Error("credits operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	zapLogger.logger.Info("credits operation", fields...)
}

// maskPIN keeps logs usable for correlation without leaking the credential.
func maskPIN(pin PINCode) string {
	value := pin.String()
	if len(value) < 6 {
		return "***"
	}
	return value[:3] + "****" + value[len(value)-3:]
}
