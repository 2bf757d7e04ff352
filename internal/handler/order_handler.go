package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/order"
)

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	CreateCheckoutSession(ctx context.Context, userID, productID string) (*order.CheckoutResult, error)
	DownloadURL(ctx context.Context, userID, productID string) (string, error)
	ListPurchases(ctx context.Context, userID string) ([]model.Purchase, error)
}

// OrderHandler はチェックアウト・ダウンロード・購入履歴のHTTPハンドラー。
type OrderHandler struct {
	service OrderServiceInterface
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(service OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: service}
}

// checkoutRequest はチェックアウト開始リクエストのボディ。
type checkoutRequest struct {
	ProductID string `json:"product_id"`
}

// checkoutResponse はチェックアウト開始のレスポンス。
type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// purchaseResponse は購入履歴の1件分。
type purchaseResponse struct {
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	ProductSlug   string    `json:"product_slug"`
	ProductTitle  string    `json:"product_title"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// Checkout は決済セッションを作成する。
// POST /api/checkout
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := h.service.CreateCheckoutSession(r.Context(), userID, strings.TrimSpace(req.ProductID))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID: result.SessionID,
		URL:       result.RedirectURL,
	})
}

// Download は購入済みテンプレートのダウンロード先へリダイレクトする。
// GET /api/downloads/{productID}
func (h *OrderHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	location, err := h.service.DownloadURL(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

// ListPurchases はログインユーザーの購入履歴を返す。
// GET /api/me/purchases
func (h *OrderHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	purchases, err := h.service.ListPurchases(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]purchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		resp = append(resp, purchaseResponse{
			TransactionID: p.TransactionID,
			ProductID:     p.ProductID,
			ProductSlug:   p.ProductSlug,
			ProductTitle:  p.ProductTitle,
			ThumbnailURL:  p.ThumbnailURL,
			Amount:        p.Amount,
			Currency:      p.Currency,
			PurchasedAt:   p.PurchasedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
