package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/order"
)

// DefaultWebhookMaxBodyBytes はWebhookボディサイズ上限の既定値。
const DefaultWebhookMaxBodyBytes = 64 * 1024

// stripeSignatureHeader はStripeが署名を載せるヘッダー名。
const stripeSignatureHeader = "Stripe-Signature"

// WebhookProcessor はWebhookハンドラーが必要とするサービスインターフェース。
type WebhookProcessor interface {
	HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (*order.WebhookResult, error)
}

// WebhookHandler は決済ゲートウェイからのWebhookを受け付けるHTTPハンドラー。
// セッション・CSRFの対象外で、署名検証のみで認証する。
type WebhookHandler struct {
	processor    WebhookProcessor
	maxBodyBytes int64
}

// NewWebhookHandler はWebhookHandlerを生成する。maxBodyBytesが0以下の場合は既定値を使う。
func NewWebhookHandler(processor WebhookProcessor, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultWebhookMaxBodyBytes
	}
	return &WebhookHandler{processor: processor, maxBodyBytes: maxBodyBytes}
}

// Stripe はStripeのWebhookを処理する。
// POST /api/webhooks/stripe
// 署名検証には受信したままのバイト列が必要なため、ボディはデコードせずに渡す。
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("webhook payload too large", slog.Int64("limit", maxErr.Limit))
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidPayloadError(err))
			return
		}
		slog.Warn("failed to read webhook body", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError(err))
		return
	}

	result, err := h.processor.HandleWebhookEvent(r.Context(), body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Debug("webhook accepted",
		slog.String("event_id", result.EventID),
		slog.String("event_type", result.EventType),
		slog.String("outcome", string(result.Outcome)),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
