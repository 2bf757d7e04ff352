package model

import "time"

// TransactionStatus は取引の決済状態を表す。
type TransactionStatus string

const (
	// TransactionStatusPending はチェックアウトセッション作成直後の状態。
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusCompleted は決済が確定した状態。
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusFailed はセッション期限切れ等で決済に至らなかった状態。
	TransactionStatusFailed TransactionStatus = "failed"
)

// IsTerminal は終端状態かどうかを返す。
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Valid は定義済みの状態かどうかを返す。
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// Transaction はユーザーによるテンプレート購入の取引を表す。
// ExternalSessionIDは決済ゲートウェイのセッションIDで、Webhook照合の自然キーとなる。
type Transaction struct {
	ID                string
	UserID            string
	ProductID         string
	ExternalSessionID string
	Amount            int64
	Currency          string
	Status            TransactionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Purchase は購入済みテンプレートの一覧表示用に取引と商品情報を結合したモデル。
type Purchase struct {
	TransactionID string
	ProductID     string
	ProductSlug   string
	ProductTitle  string
	ThumbnailURL  string
	Amount        int64
	Currency      string
	PurchasedAt   time.Time
}

// WebhookEvent は処理済みの決済Webhookイベントの記録。
// 同一イベントの再配信を検出するために使用する。
type WebhookEvent struct {
	EventID     string
	EventType   string
	SessionID   string
	ProcessedAt time.Time
}
