package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListTransactions(ctx context.Context, status string, limit int) ([]*model.Transaction, error)
	ListUsers(ctx context.Context, limit int) ([]repository.UserSummary, error)
	SalesReport(ctx context.Context, topN int) (*repository.SalesReport, error)
	DeleteUser(ctx context.Context, userID string) error
}

// AdminHandler は管理画面向けのHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type transactionResponse struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ProductID         string    `json:"product_id"`
	ExternalSessionID string    `json:"external_session_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type userSummaryResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PurchaseCount int        `json:"purchase_count"`
	LastPurchase  *time.Time `json:"last_purchase,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type productSalesResponse struct {
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	Currency     string `json:"currency"`
	Count        int    `json:"count"`
	Revenue      int64  `json:"revenue"`
}

type salesReportResponse struct {
	CountByStatus     map[model.TransactionStatus]int `json:"count_by_status"`
	RevenueByCurrency map[string]int64                `json:"revenue_by_currency"`
	TopProducts       []productSalesResponse          `json:"top_products"`
}

// ListTransactions は取引一覧を返す。
// GET /api/admin/transactions?status=completed&limit=50
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit")
	if !ok {
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			ID:                tx.ID,
			UserID:            tx.UserID,
			ProductID:         tx.ProductID,
			ExternalSessionID: tx.ExternalSessionID,
			Amount:            tx.Amount,
			Currency:          tx.Currency,
			Status:            string(tx.Status),
			CreatedAt:         tx.CreatedAt,
			UpdatedAt:         tx.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUsers は購入実績付きのユーザー一覧を返す。
// GET /api/admin/users?limit=50
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit")
	if !ok {
		return
	}

	users, err := h.service.ListUsers(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userSummaryResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userSummaryResponse{
			ID:            u.ID,
			Email:         u.Email,
			Name:          u.Name,
			PurchaseCount: u.PurchaseCount,
			LastPurchase:  u.LastPurchase,
			CreatedAt:     u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteUser はユーザーとそのセッションを削除する。
// DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SalesReport は売上集計を返す。
// GET /api/admin/reports/sales?top=10
func (h *AdminHandler) SalesReport(w http.ResponseWriter, r *http.Request) {
	topN, ok := parseIntQuery(w, r, "top")
	if !ok {
		return
	}

	report, err := h.service.SalesReport(r.Context(), topN)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	top := make([]productSalesResponse, 0, len(report.TopProducts))
	for _, p := range report.TopProducts {
		top = append(top, productSalesResponse{
			ProductID:    p.ProductID,
			ProductTitle: p.ProductTitle,
			Currency:     p.Currency,
			Count:        p.Count,
			Revenue:      p.Revenue,
		})
	}
	writeJSON(w, http.StatusOK, salesReportResponse{
		CountByStatus:     report.CountByStatus,
		RevenueByCurrency: report.RevenueByCurrency,
		TopProducts:       top,
	})
}

// parseIntQuery は整数のクエリパラメータを読み取る。未指定なら0を返す。
func parseIntQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return 0, false
	}
	return n, true
}
