// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。取引記録は残る。
	DeleteByID(ctx context.Context, id string) error

	// ListWithPurchaseStats は管理画面向けに、完了済み購入件数と最終購入日時付きの
	// ユーザー一覧を登録日時の降順で返す。
	ListWithPurchaseStats(ctx context.Context, limit int) ([]UserSummary, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// SyncLinkedUser は紐付くユーザーIDを返し、メールアドレスと表示名を最新化する。
	// 紐付けが無い場合は空文字列を返す。
	SyncLinkedUser(ctx context.Context, link IdentityLink) (string, error)
}

// IdentityLink はログイン時にIdPから受け取ったアカウント情報。
type IdentityLink struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProductRepository はテンプレート（商品）データの永続化インターフェース。
type ProductRepository interface {
	// FindByID は指定IDのテンプレートを取得する。
	// 見つからない場合、またはIDがUUID形式でない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// FindBySlug はスラッグでテンプレートを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Product, error)

	// ListPublished は公開中のテンプレートを作成日時の降順で返す。
	// categoryが空文字列の場合は全カテゴリを対象とする。
	ListPublished(ctx context.Context, category string) ([]*model.Product, error)

	// ListAll は非公開を含む全テンプレートを返す（管理画面用）。
	ListAll(ctx context.Context) ([]*model.Product, error)

	// Create はテンプレートを作成する。スラッグが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, product *model.Product) error

	// Update はテンプレートを更新する。スラッグが重複する場合はErrDuplicateを返す。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, product *model.Product) error

	// Delete は指定IDのテンプレートを削除する。対象が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// TransactionRepository は注文台帳（取引記録）の永続化インターフェース。
type TransactionRepository interface {
	// Create は取引を作成する。外部セッションIDが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, tx *model.Transaction) error

	// FindBySessionID は外部セッションIDで取引を取得する。見つからない場合はnilを返す。
	FindBySessionID(ctx context.Context, sessionID string) (*model.Transaction, error)

	// ExistsCompleted は(ユーザー, テンプレート)に完了済みの取引が存在するかを返す。
	ExistsCompleted(ctx context.Context, userID, productID string) (bool, error)

	// UpsertCompleted は外部セッションIDをキーに取引をCOMPLETEDにする。
	// 行が存在しない場合はtxの内容で新規作成し、存在する場合はステータスのみ更新する
	// （金額・通貨は上書きしない）。戻り値は更新前のステータスで、新規作成時は空文字列。
	UpsertCompleted(ctx context.Context, tx *model.Transaction) (model.TransactionStatus, error)

	// MarkFailedIfPending は外部セッションIDの取引がPENDINGの場合のみFAILEDにする。
	// 更新した場合はtrueを返す。
	MarkFailedIfPending(ctx context.Context, sessionID string) (bool, error)

	// ListPurchasesByUser はユーザーの完了済み取引をテンプレート情報と結合して新しい順に返す。
	ListPurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error)

	// List は管理画面向けに取引を新しい順に返す。
	List(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error)

	// SalesReport はステータス別件数、通貨別売上、売上上位テンプレートを集計する。
	SalesReport(ctx context.Context, topN int) (*SalesReport, error)
}

// WebhookEventRepository はWebhookイベント配信ログの永続化インターフェース。
type WebhookEventRepository interface {
	// Exists は指定イベントIDが処理済みとして記録されているかを返す。
	Exists(ctx context.Context, eventID string) (bool, error)

	// Record はイベントを処理済みとして記録する。既に記録済みの場合は何もしない。
	Record(ctx context.Context, event *model.WebhookEvent) error
}

// UserSummary はユーザーと購入実績を結合した構造体。
type UserSummary struct {
	model.User
	PurchaseCount int
	LastPurchase  *time.Time
}

// TransactionFilter は取引一覧の絞り込み条件。
// Statusが空文字列の場合は全ステータスを対象とする。
type TransactionFilter struct {
	Status model.TransactionStatus
	Limit  int
}

// SalesReport は売上集計結果。
type SalesReport struct {
	CountByStatus     map[model.TransactionStatus]int
	RevenueByCurrency map[string]int64
	TopProducts       []ProductSales
}

// ProductSales はテンプレートごとの販売実績。
type ProductSales struct {
	ProductID    string
	ProductTitle string
	Currency     string
	Count        int
	Revenue      int64
}
