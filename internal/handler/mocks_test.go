package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andre-sptr/tamanweb-sub000/internal/catalog"
	"github.com/andre-sptr/tamanweb-sub000/internal/middleware"
	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/order"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
)

// --- モック定義 ---

type mockCatalogService struct {
	listPublishedFn func(ctx context.Context, category string) ([]*model.Product, error)
	getBySlugFn     func(ctx context.Context, slug string) (*model.Product, error)
	listAllFn       func(ctx context.Context) ([]*model.Product, error)
	createFn        func(ctx context.Context, in catalog.ProductInput) (*model.Product, error)
	updateFn        func(ctx context.Context, id string, in catalog.ProductInput) (*model.Product, error)
	deleteFn        func(ctx context.Context, id string) error
}

func (m *mockCatalogService) ListPublished(ctx context.Context, category string) ([]*model.Product, error) {
	if m.listPublishedFn != nil {
		return m.listPublishedFn(ctx, category)
	}
	return []*model.Product{}, nil
}

func (m *mockCatalogService) GetBySlug(ctx context.Context, slug string) (*model.Product, error) {
	if m.getBySlugFn != nil {
		return m.getBySlugFn(ctx, slug)
	}
	return nil, model.NewProductNotFoundError(slug)
}

func (m *mockCatalogService) ListAll(ctx context.Context) ([]*model.Product, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return []*model.Product{}, nil
}

func (m *mockCatalogService) Create(ctx context.Context, in catalog.ProductInput) (*model.Product, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Product{ID: "new", Slug: in.Slug}, nil
}

func (m *mockCatalogService) Update(ctx context.Context, id string, in catalog.ProductInput) (*model.Product, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.Product{ID: id, Slug: in.Slug}, nil
}

func (m *mockCatalogService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockOrderService struct {
	checkoutFn      func(ctx context.Context, userID, productID string) (*order.CheckoutResult, error)
	downloadURLFn   func(ctx context.Context, userID, productID string) (string, error)
	listPurchasesFn func(ctx context.Context, userID string) ([]model.Purchase, error)
}

func (m *mockOrderService) CreateCheckoutSession(ctx context.Context, userID, productID string) (*order.CheckoutResult, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, userID, productID)
	}
	return &order.CheckoutResult{SessionID: "cs_test_1", RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (m *mockOrderService) DownloadURL(ctx context.Context, userID, productID string) (string, error) {
	if m.downloadURLFn != nil {
		return m.downloadURLFn(ctx, userID, productID)
	}
	return "", model.NewForbiddenError()
}

func (m *mockOrderService) ListPurchases(ctx context.Context, userID string) ([]model.Purchase, error) {
	if m.listPurchasesFn != nil {
		return m.listPurchasesFn(ctx, userID)
	}
	return []model.Purchase{}, nil
}

type mockWebhookProcessor struct {
	handleFn func(ctx context.Context, payload []byte, signatureHeader string) (*order.WebhookResult, error)
}

func (m *mockWebhookProcessor) HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (*order.WebhookResult, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, payload, signatureHeader)
	}
	return &order.WebhookResult{EventID: "evt_1", Outcome: order.WebhookProcessed}, nil
}

type mockAdminService struct {
	listTransactionsFn func(ctx context.Context, status string, limit int) ([]*model.Transaction, error)
	listUsersFn        func(ctx context.Context, limit int) ([]repository.UserSummary, error)
	salesReportFn      func(ctx context.Context, topN int) (*repository.SalesReport, error)
	deleteUserFn       func(ctx context.Context, userID string) error
}

func (m *mockAdminService) ListTransactions(ctx context.Context, status string, limit int) ([]*model.Transaction, error) {
	if m.listTransactionsFn != nil {
		return m.listTransactionsFn(ctx, status, limit)
	}
	return []*model.Transaction{}, nil
}

func (m *mockAdminService) ListUsers(ctx context.Context, limit int) ([]repository.UserSummary, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, limit)
	}
	return []repository.UserSummary{}, nil
}

func (m *mockAdminService) SalesReport(ctx context.Context, topN int) (*repository.SalesReport, error) {
	if m.salesReportFn != nil {
		return m.salesReportFn(ctx, topN)
	}
	return &repository.SalesReport{
		CountByStatus:     map[model.TransactionStatus]int{},
		RevenueByCurrency: map[string]int64{},
	}, nil
}

func (m *mockAdminService) DeleteUser(ctx context.Context, userID string) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, userID)
	}
	return nil
}

// --- ヘルパー ---

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, w.Body.String())
	}
	return body.Code
}
