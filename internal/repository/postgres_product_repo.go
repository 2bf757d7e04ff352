package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

// productColumns はproductsテーブルのSELECT対象カラム。scanProductと順序を合わせること。
const productColumns = `id, slug, title, short_description, description, category,
	thumbnail_url, preview_url, download_url, price, currency, published,
	created_at, updated_at`

// PostgresProductRepo はPostgreSQLを使用したテンプレートリポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	p := &model.Product{}
	err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.ShortDescription, &p.Description, &p.Category,
		&p.ThumbnailURL, &p.PreviewURL, &p.DownloadURL, &p.Price, &p.Currency, &p.Published,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDのテンプレートを取得する。
// UUID形式でないIDはPostgreSQLが型エラーを返すため、問い合わせ前に未検出として扱う。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}
	return p, nil
}

// FindBySlug はスラッグでテンプレートを取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindBySlug(ctx context.Context, slug string) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE slug = $1`,
		slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by slug: %w", err)
	}
	return p, nil
}

// ListPublished は公開中のテンプレートを作成日時の降順で返す。
func (r *PostgresProductRepo) ListPublished(ctx context.Context, category string) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE published = TRUE AND ($1 = '' OR category = $1)
		 ORDER BY created_at DESC`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list published products: %w", err)
	}
	return collectProducts(rows)
}

// ListAll は非公開を含む全テンプレートを更新日時の降順で返す。
func (r *PostgresProductRepo) ListAll(ctx context.Context) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]*model.Product, error) {
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// Create はテンプレートを作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Slug, p.Title, p.ShortDescription, p.Description, p.Category,
		p.ThumbnailURL, p.PreviewURL, p.DownloadURL, p.Price, p.Currency, p.Published,
		p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("product slug %q: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Update はテンプレートの全項目を更新する。created_atは変更しない。
func (r *PostgresProductRepo) Update(ctx context.Context, p *model.Product) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET
			slug = $2, title = $3, short_description = $4, description = $5, category = $6,
			thumbnail_url = $7, preview_url = $8, download_url = $9, price = $10,
			currency = $11, published = $12, updated_at = $13
		 WHERE id = $1`,
		p.ID, p.Slug, p.Title, p.ShortDescription, p.Description, p.Category,
		p.ThumbnailURL, p.PreviewURL, p.DownloadURL, p.Price,
		p.Currency, p.Published, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("product slug %q: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireAffected(result, "product", p.ID)
}

// Delete は指定IDのテンプレートを削除する。
// 取引記録はproduct_idを文字列で保持しているため削除されない。
func (r *PostgresProductRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return requireAffected(result, "product", id)
}

// requireAffected は更新系クエリが1行以上に作用したことを確認する。
func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
