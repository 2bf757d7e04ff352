package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig はStripeクライアントの設定。
type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	Timeout           time.Duration // API呼び出し1回あたりのタイムアウト
	MaxNetworkRetries int64
	WebhookTolerance  time.Duration // 署名タイムスタンプの許容誤差
	APIURL            string        // 空の場合はStripe本番API。テストではhttptestのURLを指定する
}

// StripeGateway はStripe Checkoutを使用するGateway実装。
type StripeGateway struct {
	sessions      session.Client
	webhookSecret string
	tolerance     time.Duration
	logger        *slog.Logger
}

// NewStripeGateway はStripeGatewayを生成する。
// SDKのグローバル設定は使わず、クライアントごとにバックエンドを構築する。
func NewStripeGateway(cfg StripeConfig, logger *slog.Logger) *StripeGateway {
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     &slogLeveledLogger{logger: logger.With(slog.String("component", "stripe"))},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeGateway{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.WebhookTolerance,
		logger:        logger,
	}
}

// CreateCheckoutSession は一回払い・数量1のチェックアウトセッションを作成する。
// メタデータはセッションとPaymentIntentの両方に設定する。
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	// Stripeは空文字列を「値の削除」と解釈して拒否するため、設定済みの項目のみ送る
	if req.ProductDescription != "" {
		productData.Description = stripe.String(req.ProductDescription)
	}
	if req.ImageURL != "" {
		productData.Images = stripe.StringSlice([]string{req.ImageURL})
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(req.Currency)),
					UnitAmount:  stripe.Int64(req.UnitAmount),
					ProductData: productData,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
		Metadata:          req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx

	cs, err := g.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			g.logger.Error("Stripeチェックアウトセッションの作成に失敗しました",
				slog.String("stripe_error_type", string(stripeErr.Type)),
				slog.String("stripe_error_code", string(stripeErr.Code)),
				slog.Int("http_status", stripeErr.HTTPStatusCode),
				slog.String("request_id", stripeErr.RequestID),
			)
		}
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}

	return &CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

// ParseWebhook はStripe-Signatureヘッダーを検証し、イベントを解析する。
// アカウントのAPIバージョンとSDKのバージョンの差異は許容する。
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                g.tolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event := &Event{ID: ev.ID, Type: string(ev.Type)}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrInvalidPayload)
	}

	if strings.HasPrefix(event.Type, "checkout.session.") {
		if ev.Data == nil || len(ev.Data.Raw) == 0 {
			return nil, fmt.Errorf("%w: missing checkout session object", ErrInvalidPayload)
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if cs.ID == "" {
			return nil, fmt.Errorf("%w: checkout session without id", ErrInvalidPayload)
		}
		event.Session = &SessionObject{
			ID:            cs.ID,
			PaymentStatus: string(cs.PaymentStatus),
			AmountTotal:   cs.AmountTotal,
			Currency:      strings.ToUpper(string(cs.Currency)),
			Metadata:      cs.Metadata,
		}
	}

	return event, nil
}

// isSignatureError はSDKの署名検証エラーかを判定する。
func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// slogLeveledLogger はStripe SDKのログをslogへ転送する。
type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// compile-time interface checks
var (
	_ Gateway                       = (*StripeGateway)(nil)
	_ stripe.LeveledLoggerInterface = (*slogLeveledLogger)(nil)
)
