// Package payment は決済ゲートウェイ（ホスト型チェックアウトとWebhook検証）の抽象化と
// Stripe実装を提供する。
package payment

import (
	"context"
	"errors"
)

// SessionIDPlaceholder は成功URLに埋め込むチェックアウトセッションIDのプレースホルダー。
// ゲートウェイがリダイレクト時に実際のセッションIDへ置換する。
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// チェックアウトセッションのメタデータキー。
const (
	MetadataProductID = "productId"
	MetadataUserID    = "userId"
)

// 処理対象のWebhookイベント種別。
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutExpired               = "checkout.session.expired"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// PaymentStatusPaid は支払いが確定したセッションの支払い状態。
const PaymentStatusPaid = "paid"

// Webhook検証の失敗種別。呼び出し側はerrors.Isで判定する。
var (
	// ErrInvalidSignature は署名ヘッダーの欠落・不正・期限切れを表す。
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload は署名検証後のイベント本文が解析できないことを表す。
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Gateway は決済ゲートウェイのインターフェース。
type Gateway interface {
	// CreateCheckoutSession はホスト型チェックアウトセッションを作成する。
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// ParseWebhook は署名を検証し、Webhookイベントを解析する。
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// CheckoutRequest は1商品・数量1の一回払いチェックアウトの作成パラメータ。
type CheckoutRequest struct {
	ProductName        string
	ProductDescription string
	ImageURL           string
	UnitAmount         int64 // 通貨の最小単位
	Currency           string
	SuccessURL         string
	CancelURL          string
	ClientReferenceID  string
	Metadata           map[string]string
}

// CheckoutSession は作成されたチェックアウトセッション。
type CheckoutSession struct {
	ID  string
	URL string
}

// Event は検証済みのWebhookイベント。
// Sessionはcheckout.session.*イベントの場合のみ設定される。
type Event struct {
	ID      string
	Type    string
	Session *SessionObject
}

// SessionObject はWebhookイベントに含まれるチェックアウトセッション。
type SessionObject struct {
	ID            string
	PaymentStatus string
	AmountTotal   int64
	Currency      string // 大文字のISOコード
	Metadata      map[string]string
}

// SessionID はイベントが参照するセッションIDを返す。セッションを含まない場合は空文字列。
func (e *Event) SessionID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.ID
}
