// Package order は注文ライフサイクル（チェックアウト開始、決済Webhookの照合、
// ダウンロード権限の判定）のドメインロジックを提供する。
package order

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andre-sptr/tamanweb-sub000/internal/metrics"
	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/payment"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
)

// チェックアウト結果のメトリクスラベル。
const (
	checkoutCreated         = "created"
	checkoutUnauthenticated = "unauthenticated"
	checkoutNotFound        = "not_found"
	checkoutUnavailable     = "unavailable"
	checkoutAlreadyOwned    = "already_owned"
	checkoutProviderError   = "provider_error"
	checkoutInternalError   = "internal_error"
)

// ServiceConfig は注文サービスの設定。
type ServiceConfig struct {
	// BaseURL はストアの公開URL。成功・キャンセル時のリダイレクト先の組み立てに使う。
	BaseURL string
}

// CheckoutResult はチェックアウト開始の結果。
type CheckoutResult struct {
	SessionID   string
	RedirectURL string
}

// Service は注文ライフサイクルのサービス層。
// 注文台帳への書き込みはこのサービスのみが行う。
type Service struct {
	products repository.ProductRepository
	ledger   repository.TransactionRepository
	events   repository.WebhookEventRepository
	gateway  payment.Gateway
	metrics  metrics.MetricsCollector
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	products repository.ProductRepository,
	ledger repository.TransactionRepository,
	events repository.WebhookEventRepository,
	gateway payment.Gateway,
	collector metrics.MetricsCollector,
	cfg ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		products: products,
		ledger:   ledger,
		events:   events,
		gateway:  gateway,
		metrics:  collector,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// CreateCheckoutSession は購入者のためにホスト型チェックアウトセッションを作成し、
// PENDINGの取引を記録する。
// 検証（認証、テンプレートの存在と公開状態、購入済み判定）はすべて副作用の前に行う。
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, productID string) (*CheckoutResult, error) {
	if userID == "" {
		s.metrics.RecordCheckout(checkoutUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		s.metrics.RecordCheckout(checkoutInternalError)
		return nil, model.NewInternalError(fmt.Errorf("テンプレートの取得に失敗しました: %w", err))
	}
	if product == nil {
		s.metrics.RecordCheckout(checkoutNotFound)
		return nil, model.NewProductNotFoundError(productID)
	}
	if !product.Published {
		s.metrics.RecordCheckout(checkoutUnavailable)
		return nil, model.NewProductUnavailableError()
	}

	owned, err := s.ledger.ExistsCompleted(ctx, userID, product.ID)
	if err != nil {
		s.metrics.RecordCheckout(checkoutInternalError)
		return nil, model.NewInternalError(fmt.Errorf("購入済み判定に失敗しました: %w", err))
	}
	if owned {
		s.metrics.RecordCheckout(checkoutAlreadyOwned)
		return nil, model.NewAlreadyOwnedError()
	}

	metadata := map[string]string{
		payment.MetadataProductID: product.ID,
		payment.MetadataUserID:    userID,
	}

	start := time.Now()
	cs, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		ProductName:        product.Title,
		ProductDescription: product.ShortDescription,
		ImageURL:           product.ThumbnailURL,
		UnitAmount:         product.Price,
		Currency:           product.Currency,
		SuccessURL:         s.successURL(),
		CancelURL:          s.cancelURL(product.Slug),
		ClientReferenceID:  userID,
		Metadata:           metadata,
	})
	s.metrics.RecordGatewayLatency("create_checkout_session", time.Since(start))
	if err != nil {
		s.logger.Error("チェックアウトセッションの作成に失敗しました",
			slog.String("user_id", userID),
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCheckout(checkoutProviderError)
		return nil, model.NewPaymentProviderError(err)
	}

	now := s.now()
	tx := &model.Transaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProductID:         product.ID,
		ExternalSessionID: cs.ID,
		Amount:            product.Price,
		Currency:          product.Currency,
		Status:            model.TransactionStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		// ゲートウェイ側のセッションはそのまま期限切れになる。
		// 期限切れWebhookはPENDING行が無いため何もしない。
		s.logger.Error("取引の記録に失敗しました",
			slog.String("user_id", userID),
			slog.String("product_id", product.ID),
			slog.String("session_id", cs.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCheckout(checkoutInternalError)
		return nil, model.NewInternalError(fmt.Errorf("取引の記録に失敗しました: %w", err))
	}

	s.metrics.RecordLedgerTransition(string(model.TransactionStatusPending))
	s.metrics.RecordCheckout(checkoutCreated)
	s.logger.Info("チェックアウトセッションを作成しました",
		slog.String("user_id", userID),
		slog.String("product_id", product.ID),
		slog.String("session_id", cs.ID),
		slog.Int64("amount", product.Price),
		slog.String("currency", product.Currency),
	)

	return &CheckoutResult{SessionID: cs.ID, RedirectURL: cs.URL}, nil
}

// successURL は決済完了後のリダイレクト先を返す。セッションIDはゲートウェイが埋め込む。
func (s *Service) successURL() string {
	return s.baseURL + "/checkout/success?session_id=" + payment.SessionIDPlaceholder
}

// cancelURL は決済キャンセル時にテンプレート詳細ページへ戻すURLを返す。
func (s *Service) cancelURL(slug string) string {
	return s.baseURL + "/templates/" + url.PathEscape(slug) + "?canceled=1"
}

// CanDownload は(ユーザー, テンプレート)に完了済みの取引が存在するかを返す。
func (s *Service) CanDownload(ctx context.Context, userID, productID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	owned, err := s.ledger.ExistsCompleted(ctx, userID, productID)
	if err != nil {
		return false, model.NewInternalError(fmt.Errorf("購入済み判定に失敗しました: %w", err))
	}
	return owned, nil
}

// DownloadURL は購入済みテンプレートのダウンロード先URLを返す。
// 判定順: テンプレートの存在、購入済み、ダウンロード先の設定。
// 公開を停止したテンプレートでも購入済みであればダウンロードできる。
func (s *Service) DownloadURL(ctx context.Context, userID, productID string) (string, error) {
	if userID == "" {
		return "", model.NewUnauthenticatedError()
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return "", model.NewInternalError(fmt.Errorf("テンプレートの取得に失敗しました: %w", err))
	}
	if product == nil {
		return "", model.NewProductNotFoundError(productID)
	}

	owned, err := s.CanDownload(ctx, userID, product.ID)
	if err != nil {
		return "", err
	}
	if !owned {
		s.logger.Warn("未購入テンプレートのダウンロード要求を拒否しました",
			slog.String("user_id", userID),
			slog.String("product_id", product.ID),
		)
		return "", model.NewForbiddenError()
	}

	if !product.HasDownload() {
		s.logger.Error("ダウンロード先が未設定のテンプレートです",
			slog.String("product_id", product.ID),
		)
		return "", model.NewDownloadNotConfiguredError()
	}

	return product.DownloadURL, nil
}

// ListPurchases はユーザーの購入済みテンプレートを新しい順に返す。
func (s *Service) ListPurchases(ctx context.Context, userID string) ([]model.Purchase, error) {
	if userID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	purchases, err := s.ledger.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("購入履歴の取得に失敗しました: %w", err))
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	return purchases, nil
}
