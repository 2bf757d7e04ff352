package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andre-sptr/tamanweb-sub000/internal/catalog"
	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	ListPublished(ctx context.Context, category string) ([]*model.Product, error)
	GetBySlug(ctx context.Context, slug string) (*model.Product, error)
	ListAll(ctx context.Context) ([]*model.Product, error)
	Create(ctx context.Context, in catalog.ProductInput) (*model.Product, error)
	Update(ctx context.Context, id string, in catalog.ProductInput) (*model.Product, error)
	Delete(ctx context.Context, id string) error
}

// CatalogHandler はテンプレートカタログのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// productResponse は公開APIの商品レスポンス。ダウンロード先は含めない。
type productResponse struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category"`
	ThumbnailURL     string `json:"thumbnail_url"`
	PreviewURL       string `json:"preview_url,omitempty"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
}

// adminProductResponse は管理APIの商品レスポンス。
type adminProductResponse struct {
	productResponse
	DownloadURL string    `json:"download_url"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListProducts は公開中のテンプレート一覧を返す。
// GET /api/products?category=xxx
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListPublished(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		item := toProductResponse(p)
		// 一覧では本文を返さない
		item.Description = ""
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProduct は公開中のテンプレート詳細を返す。
// GET /api/products/{slug}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// AdminListProducts は非公開を含む全テンプレートを返す。
// GET /api/admin/products
func (h *CatalogHandler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]adminProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toAdminProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminCreateProduct はテンプレートを登録する。
// POST /api/admin/products
func (h *CatalogHandler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	product, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdminProductResponse(product))
}

// AdminUpdateProduct はテンプレートを更新する。
// PUT /api/admin/products/{id}
func (h *CatalogHandler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	product, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminProductResponse(product))
}

// AdminDeleteProduct はテンプレートを削除する。
// DELETE /api/admin/products/{id}
func (h *CatalogHandler) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:               p.ID,
		Slug:             p.Slug,
		Title:            p.Title,
		ShortDescription: p.ShortDescription,
		Description:      p.Description,
		Category:         p.Category,
		ThumbnailURL:     p.ThumbnailURL,
		PreviewURL:       p.PreviewURL,
		Price:            p.Price,
		Currency:         p.Currency,
	}
}

func toAdminProductResponse(p *model.Product) adminProductResponse {
	return adminProductResponse{
		productResponse: toProductResponse(p),
		DownloadURL:     p.DownloadURL,
		Published:       p.Published,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
