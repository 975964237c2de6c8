// Package httpserver exposes the payment webhook, the consumption
// entry points, and the balance check over gin.
package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/seimei-ai/seimei/pkg/credits"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's HMAC-SHA256 over the raw body.
const SignatureHeader = "X-Signature"

// Run boots the HTTP surface using the supplied configuration.
func Run(ctx context.Context, cfg Config, service *credits.Service, logger *zap.Logger) error {
	handler := NewHandler(cfg, service, logger)
	router := NewRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires the gin engine around a Handler.
func NewRouter(cfg Config, handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", SignatureHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/payments/webhook", handler.handleWebhook)
	api.POST("/split", handler.handleSplit)
	api.POST("/split/csv", handler.handleSplitCSV)
	api.GET("/balance", handler.handleBalance)

	return router
}

// Handler holds the request handlers' shared dependencies.
type Handler struct {
	logger  *zap.Logger
	service *credits.Service
	cfg     Config
}

// NewHandler wires a Handler.
func NewHandler(cfg Config, service *credits.Service, logger *zap.Logger) *Handler {
	return &Handler{logger: logger, service: service, cfg: cfg}
}

type webhookPayload struct {
	PaymentID  string         `json:"payment_id"`
	Amount     int64          `json:"amount"`
	PayerEmail string         `json:"payer_email"`
	Metadata   map[string]any `json:"metadata"`
}

type splitRequest struct {
	PINCode    string `json:"pin_code"`
	FullName   string `json:"full_name"`
	OutputMode string `json:"output_mode"`
}

func (handler *Handler) handleWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", "unreadable body"))
		return
	}
	if !verifySignature(handler.cfg.WebhookSecret, body, ctx.GetHeader(SignatureHeader)) {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", "expected JSON body"))
		return
	}
	event, err := credits.NewPaymentEvent(payload.PaymentID, payload.Amount, payload.PayerEmail, marshalMetadata(payload.Metadata))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	issued, err := handler.service.Issue(requestCtx, event)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"pin_code":       issued.PIN.String(),
		"credits":        issued.Credits,
		"plan":           issued.Plan,
		"already_issued": issued.AlreadyIssued,
	})
}

func (handler *Handler) handleSplit(ctx *gin.Context) {
	outcome, _, ok := handler.performSplit(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status": "success",
		"result": gin.H{
			"last_name":  outcome.Name.FamilyName,
			"first_name": outcome.Name.GivenName,
		},
		"remaining_credits": outcome.RemainingCredits,
	})
}

func (handler *Handler) handleSplitCSV(ctx *gin.Context) {
	outcome, mode, ok := handler.performSplit(ctx)
	if !ok {
		return
	}
	ctx.String(http.StatusOK, "%s", formatCSV(outcome.Name, mode))
}

// performSplit binds and validates the request, runs the consumption
// operation, and writes the error response on failure.
func (handler *Handler) performSplit(ctx *gin.Context) (credits.SplitOutcome, credits.OutputMode, bool) {
	var request splitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return credits.SplitOutcome{}, "", false
	}
	pin, err := credits.NewPINCode(request.PINCode)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "pin_code is required"))
		return credits.SplitOutcome{}, "", false
	}
	mode, err := credits.ParseOutputMode(request.OutputMode)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_output_mode", err.Error()))
		return credits.SplitOutcome{}, "", false
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	outcome, err := handler.service.Split(requestCtx, pin, request.FullName, mode)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return credits.SplitOutcome{}, "", false
	}
	return outcome, mode, true
}

func (handler *Handler) handleBalance(ctx *gin.Context) {
	pin, err := credits.NewPINCode(ctx.Query("pin_code"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "pin_code is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	view, err := handler.service.Balance(requestCtx, pin)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"valid":             view.Valid,
		"remaining_credits": view.RemainingCredits,
		"plan":              view.Plan,
	})
}

// respondDomainError maps domain error kinds to stable HTTP codes.
func (handler *Handler) respondDomainError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrInvalidEvent), errors.Is(err, credits.ErrInvalidFullName), errors.Is(err, credits.ErrInvalidOutputMode):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
	case errors.Is(err, credits.ErrUnknownPIN):
		ctx.JSON(http.StatusNotFound, errorResponse("invalid_pin", "unknown pin code"))
	case errors.Is(err, credits.ErrBalanceExhausted):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("balance_exhausted", "no remaining credits"))
	case errors.Is(err, credits.ErrUpstreamMalformed):
		ctx.JSON(http.StatusBadGateway, errorResponse("upstream_malformed", "processing service returned a malformed result"))
	case errors.Is(err, credits.ErrUpstreamUnavailable):
		ctx.JSON(http.StatusBadGateway, errorResponse("upstream_unavailable", "processing service failed"))
	case errors.Is(err, credits.ErrStoreUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("store_unavailable", "ledger store unavailable"))
	case errors.Is(err, credits.ErrEntropyExhausted):
		handler.logger.Error("pin generation exhausted retries, operator attention required", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("entropy_exhausted", "could not issue a unique pin code"))
	default:
		handler.logger.Error("unhandled domain error", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func formatCSV(name credits.SplitName, mode credits.OutputMode) string {
	switch mode {
	case credits.OutputModeFamily:
		return name.FamilyName
	case credits.OutputModeGiven:
		return name.GivenName
	default:
		return strings.Join([]string{name.FamilyName, name.GivenName}, ",")
	}
}

func verifySignature(secret string, body []byte, provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
