package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

const transactionColumns = `id, user_id, product_id, external_session_id, amount, currency, status, created_at, updated_at`

// PostgresTransactionRepo はPostgreSQLを使用した注文台帳リポジトリ。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	tx := &model.Transaction{}
	var status string
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.ProductID, &tx.ExternalSessionID,
		&tx.Amount, &tx.Currency, &status, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Status = model.TransactionStatus(status)
	return tx, nil
}

// Create は取引を作成する。
func (r *PostgresTransactionRepo) Create(ctx context.Context, tx *model.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.UserID, tx.ProductID, tx.ExternalSessionID,
		tx.Amount, tx.Currency, string(tx.Status), tx.CreatedAt, tx.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction for session %s: %w", tx.ExternalSessionID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// FindBySessionID は外部セッションIDで取引を取得する。見つからない場合はnilを返す。
func (r *PostgresTransactionRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_session_id = $1`,
		sessionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by session ID: %w", err)
	}
	return tx, nil
}

// ExistsCompleted は(ユーザー, テンプレート)に完了済みの取引が存在するかを返す。
func (r *PostgresTransactionRepo) ExistsCompleted(ctx context.Context, userID, productID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND product_id = $2 AND status = 'completed'
		 )`,
		userID, productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed transaction: %w", err)
	}
	return exists, nil
}

// UpsertCompleted は外部セッションIDをキーに取引をCOMPLETEDにする。
// 更新前のステータスは行ロックを取って読むため、同一セッションの同時配信でも
// 後着側は先着側が確定した状態（completed）を受け取る。
// 既存行の金額・通貨・ユーザー・テンプレートは上書きしない。
func (r *PostgresTransactionRepo) UpsertCompleted(ctx context.Context, tx *model.Transaction) (model.TransactionStatus, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	prev, err := lockStatusBySession(ctx, dbTx, tx.ExternalSessionID)
	if err != nil {
		return "", err
	}

	if prev == "" {
		result, err := dbTx.ExecContext(ctx,
			`INSERT INTO transactions (`+transactionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, 'completed', $7, $7)
			 ON CONFLICT (external_session_id) DO NOTHING`,
			tx.ID, tx.UserID, tx.ProductID, tx.ExternalSessionID,
			tx.Amount, tx.Currency, tx.UpdatedAt,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert completed transaction: %w", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to insert completed transaction: %w", err)
		}
		if inserted == 1 {
			if err := dbTx.Commit(); err != nil {
				return "", fmt.Errorf("failed to commit completed transaction: %w", err)
			}
			return "", nil
		}

		// 同時に挿入した配信がコミット済みのため、その行を読み直す
		prev, err = lockStatusBySession(ctx, dbTx, tx.ExternalSessionID)
		if err != nil {
			return "", err
		}
		if prev == "" {
			return "", fmt.Errorf("transaction for session %s vanished during upsert", tx.ExternalSessionID)
		}
	}

	if _, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = 'completed', updated_at = $2
		 WHERE external_session_id = $1`,
		tx.ExternalSessionID, tx.UpdatedAt,
	); err != nil {
		return "", fmt.Errorf("failed to complete transaction: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit completed transaction: %w", err)
	}
	return prev, nil
}

// lockStatusBySession はセッションの取引ステータスを行ロック付きで取得する。
// 行が無い場合は空文字列を返す。
func lockStatusBySession(ctx context.Context, dbTx *sql.Tx, sessionID string) (model.TransactionStatus, error) {
	var status string
	err := dbTx.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE external_session_id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock transaction: %w", err)
	}
	return model.TransactionStatus(status), nil
}

// MarkFailedIfPending はPENDINGの取引のみFAILEDにする。
// 完了済み・失敗済み・未登録のセッションには作用しない。
func (r *PostgresTransactionRepo) MarkFailedIfPending(ctx context.Context, sessionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET status = 'failed', updated_at = now()
		 WHERE external_session_id = $1 AND status = 'pending'`,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPurchasesByUser はユーザーの完了済み取引をテンプレート情報と結合して新しい順に返す。
// 削除済みテンプレートの購入も履歴として残すためLEFT JOINを使う。
func (r *PostgresTransactionRepo) ListPurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.product_id,
		        COALESCE(p.slug, ''), COALESCE(p.title, ''), COALESCE(p.thumbnail_url, ''),
		        t.amount, t.currency, t.updated_at
		 FROM transactions t
		 LEFT JOIN products p ON p.id::text = t.product_id
		 WHERE t.user_id = $1 AND t.status = 'completed'
		 ORDER BY t.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(
			&p.TransactionID, &p.ProductID, &p.ProductSlug, &p.ProductTitle, &p.ThumbnailURL,
			&p.Amount, &p.Currency, &p.PurchasedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return purchases, nil
}

// List は取引を作成日時の降順で返す。
func (r *PostgresTransactionRepo) List(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		string(filter.Status), filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// SalesReport はステータス別件数、通貨別売上、売上上位テンプレートを集計する。
// 売上は完了済み取引のみを対象とする。
func (r *PostgresTransactionRepo) SalesReport(ctx context.Context, topN int) (*SalesReport, error) {
	report := &SalesReport{
		CountByStatus:     make(map[model.TransactionStatus]int),
		RevenueByCurrency: make(map[string]int64),
	}

	statusRows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM transactions GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		report.CountByStatus[model.TransactionStatus(status)] = count
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	revenueRows, err := r.db.QueryContext(ctx,
		`SELECT currency, SUM(amount)::bigint
		 FROM transactions
		 WHERE status = 'completed'
		 GROUP BY currency`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}
	defer revenueRows.Close()
	for revenueRows.Next() {
		var currency string
		var revenue int64
		if err := revenueRows.Scan(&currency, &revenue); err != nil {
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		report.RevenueByCurrency[currency] = revenue
	}
	if err := revenueRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revenue: %w", err)
	}

	topRows, err := r.db.QueryContext(ctx,
		`SELECT t.product_id, COALESCE(p.title, ''), t.currency, COUNT(*), SUM(t.amount)::bigint
		 FROM transactions t
		 LEFT JOIN products p ON p.id::text = t.product_id
		 WHERE t.status = 'completed'
		 GROUP BY t.product_id, p.title, t.currency
		 ORDER BY COUNT(*) DESC, SUM(t.amount) DESC
		 LIMIT $1`,
		topN,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top products: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var ps ProductSales
		if err := topRows.Scan(&ps.ProductID, &ps.ProductTitle, &ps.Currency, &ps.Count, &ps.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan product sales: %w", err)
		}
		report.TopProducts = append(report.TopProducts, ps)
	}
	if err := topRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top products: %w", err)
	}

	return report, nil
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
