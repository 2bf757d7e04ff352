// Package catalog はテンプレートカタログの閲覧と管理画面からの登録・更新を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
	"github.com/andre-sptr/tamanweb-sub000/internal/security"
)

const (
	maxSlugLength  = 100
	maxTitleLength = 200
)

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ProductInput は管理画面から受け取るテンプレートの入力値。
type ProductInput struct {
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	ThumbnailURL     string `json:"thumbnail_url"`
	PreviewURL       string `json:"preview_url"`
	DownloadURL      string `json:"download_url"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
	Published        bool   `json:"published"`
}

// Service はテンプレートカタログのサービス層。
type Service struct {
	products  repository.ProductRepository
	sanitizer security.DescriptionSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(products repository.ProductRepository, sanitizer security.DescriptionSanitizer) *Service {
	return &Service{
		products:  products,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// ListPublished は公開中のテンプレートを返す。categoryが空の場合は全カテゴリを対象とする。
func (s *Service) ListPublished(ctx context.Context, category string) ([]*model.Product, error) {
	products, err := s.products.ListPublished(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, fmt.Errorf("公開テンプレート一覧の取得に失敗しました: %w", err)
	}
	if products == nil {
		products = []*model.Product{}
	}
	return products, nil
}

// GetBySlug は公開中のテンプレートをスラッグで取得する。
// 非公開のテンプレートは存在しないものとして扱う。
func (s *Service) GetBySlug(ctx context.Context, slug string) (*model.Product, error) {
	p, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	if p == nil || !p.Published {
		return nil, model.NewProductNotFoundError(slug)
	}
	return p, nil
}

// ListAll は非公開を含む全テンプレートを返す。管理画面用。
func (s *Service) ListAll(ctx context.Context) ([]*model.Product, error) {
	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("テンプレート一覧の取得に失敗しました: %w", err)
	}
	if products == nil {
		products = []*model.Product{}
	}
	return products, nil
}

// Create は入力値を検証してテンプレートを登録する。
func (s *Service) Create(ctx context.Context, in ProductInput) (*model.Product, error) {
	p, err := s.buildProduct(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.products.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewInvalidProductError("スラッグは既に使用されています")
		}
		return nil, fmt.Errorf("テンプレートの登録に失敗しました: %w", err)
	}

	slog.Info("テンプレートを登録しました",
		slog.String("product_id", p.ID),
		slog.String("slug", p.Slug),
		slog.Bool("published", p.Published),
	)
	return p, nil
}

// Update は既存テンプレートの全項目を入力値で置き換える。
func (s *Service) Update(ctx context.Context, id string, in ProductInput) (*model.Product, error) {
	existing, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewProductNotFoundError(id)
	}

	p, err := s.buildProduct(in)
	if err != nil {
		return nil, err
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()

	if err := s.products.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewInvalidProductError("スラッグは既に使用されています")
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewProductNotFoundError(id)
		}
		return nil, fmt.Errorf("テンプレートの更新に失敗しました: %w", err)
	}

	slog.Info("テンプレートを更新しました",
		slog.String("product_id", p.ID),
		slog.String("slug", p.Slug),
		slog.Bool("published", p.Published),
	)
	return p, nil
}

// Delete はテンプレートを削除する。購入者の取引記録は残る。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewProductNotFoundError(id)
		}
		return fmt.Errorf("テンプレートの削除に失敗しました: %w", err)
	}
	slog.Info("テンプレートを削除しました", slog.String("product_id", id))
	return nil
}

// buildProduct は入力値を正規化・検証し、説明文をサニタイズしたProductを返す。
func (s *Service) buildProduct(in ProductInput) (*model.Product, error) {
	p := &model.Product{
		Slug:             strings.TrimSpace(in.Slug),
		Title:            strings.TrimSpace(in.Title),
		ShortDescription: strings.TrimSpace(in.ShortDescription),
		Category:         strings.TrimSpace(in.Category),
		ThumbnailURL:     strings.TrimSpace(in.ThumbnailURL),
		PreviewURL:       strings.TrimSpace(in.PreviewURL),
		DownloadURL:      strings.TrimSpace(in.DownloadURL),
		Price:            in.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(in.Currency)),
		Published:        in.Published,
	}

	switch {
	case p.Slug == "":
		return nil, model.NewInvalidProductError("スラッグは必須です")
	case len(p.Slug) > maxSlugLength || !slugPattern.MatchString(p.Slug):
		return nil, model.NewInvalidProductError("スラッグは英小文字・数字・ハイフンのみ使用できます")
	case p.Title == "":
		return nil, model.NewInvalidProductError("タイトルは必須です")
	case len([]rune(p.Title)) > maxTitleLength:
		return nil, model.NewInvalidProductError("タイトルが長すぎます")
	case p.Price <= 0:
		return nil, model.NewInvalidProductError("価格は1以上で指定してください")
	case !currencyPattern.MatchString(p.Currency):
		return nil, model.NewInvalidProductError("通貨はISO 4217の3文字コードで指定してください")
	}

	urls := []struct{ field, value string }{
		{"thumbnail_url", p.ThumbnailURL},
		{"preview_url", p.PreviewURL},
		{"download_url", p.DownloadURL},
	}
	for _, u := range urls {
		if u.value != "" && !isAbsoluteHTTPURL(u.value) {
			return nil, model.NewInvalidProductError(u.field + "はhttp(s)の絶対URLで指定してください")
		}
	}

	if s.sanitizer != nil {
		p.Description = s.sanitizer.Sanitize(in.Description)
	} else {
		p.Description = in.Description
	}
	return p, nil
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
