// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errには原因となった内部エラーを保持し、ログ出力にのみ使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, payment, webhook, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeProductNotFound       = "PRODUCT_NOT_FOUND"
	ErrCodeProductUnavailable    = "PRODUCT_UNAVAILABLE"
	ErrCodeAlreadyOwned          = "ALREADY_OWNED"
	ErrCodePaymentProvider       = "PAYMENT_PROVIDER_ERROR"
	ErrCodeInvalidSignature      = "INVALID_SIGNATURE"
	ErrCodeInvalidMetadata       = "INVALID_METADATA"
	ErrCodeInvalidPayload        = "INVALID_PAYLOAD"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeDownloadNotConfigured = "DOWNLOAD_NOT_CONFIGURED"
	ErrCodeInvalidProduct        = "INVALID_PRODUCT"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewProductNotFoundError はテンプレート未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定されたテンプレートが見つかりません: %s", productID),
		Category: "catalog",
		Action:   "テンプレート一覧から選択し直してください。",
	}
}

// NewProductUnavailableError は非公開テンプレートの購入エラーを生成する。
func NewProductUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProductUnavailable,
		Message:  "このテンプレートは現在販売されていません。",
		Category: "catalog",
		Action:   "公開中のテンプレートから選択してください。",
	}
}

// NewAlreadyOwnedError は購入済みテンプレートの再購入エラーを生成する。
func NewAlreadyOwnedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyOwned,
		Message:  "このテンプレートは既に購入済みです。",
		Category: "payment",
		Action:   "購入履歴からダウンロードしてください。",
	}
}

// NewPaymentProviderError は決済プロバイダー呼び出しの失敗を表すエラーを生成する。
// 原因エラーはログにのみ出力し、ユーザーには一般的なメッセージを返す。
func NewPaymentProviderError(err error) *APIError {
	return &APIError{
		Code:     ErrCodePaymentProvider,
		Message:  "決済処理の開始に失敗しました。",
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewInvalidSignatureError はWebhook署名検証の失敗エラーを生成する。
func NewInvalidSignatureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "Webhook署名の検証に失敗しました。",
		Category: "webhook",
		Action:   "Webhookシークレットの設定を確認してください。",
		Err:      err,
	}
}

// NewInvalidMetadataError はWebhookイベントのメタデータ欠落エラーを生成する。
func NewInvalidMetadataError(missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMetadata,
		Message:  fmt.Sprintf("Webhookイベントのメタデータが不足しています: %v", missing),
		Category: "webhook",
		Action:   "チェックアウトセッションがストア経由で作成されたか確認してください。",
	}
}

// NewInvalidPayloadError は署名検証後のイベント本文が解析できない場合のエラーを生成する。
func NewInvalidPayloadError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  "Webhookイベントの解析に失敗しました。",
		Category: "webhook",
		Action:   "イベントのペイロード形式を確認してください。",
		Err:      err,
	}
}

// NewForbiddenError はダウンロード権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このテンプレートをダウンロードする権限がありません。",
		Category: "auth",
		Action:   "テンプレートを購入してからダウンロードしてください。",
	}
}

// NewDownloadNotConfiguredError はダウンロード先未設定エラーを生成する。
func NewDownloadNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeDownloadNotConfigured,
		Message:  "このテンプレートのダウンロード先が設定されていません。",
		Category: "catalog",
		Action:   "お手数ですがサポートまでお問い合わせください。",
	}
}

// NewInvalidProductError は管理画面からのテンプレート入力値が不正な場合のエラーを生成する。
func NewInvalidProductError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProduct,
		Message:  fmt.Sprintf("テンプレートの入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "指定されたユーザーが見つかりません。",
		Category: "validation",
		Action:   "ユーザー一覧から選択し直してください。",
	}
}

// NewInternalError はストレージ障害等の内部エラーを生成する。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
