package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

// PostgresWebhookEventRepo はPostgreSQLを使用したWebhook配信ログリポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// Exists は指定イベントIDが処理済みとして記録されているかを返す。
func (r *PostgresWebhookEventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}

// Record はイベントを処理済みとして記録する。
// 同一イベントの同時配信で先に記録された場合は何もしない。
func (r *PostgresWebhookEventRepo) Record(ctx context.Context, event *model.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, session_id, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.SessionID, event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// DeleteProcessedBefore はcutoffより前に処理されたイベントの記録を削除し、削除件数を返す。
// 保持期間を過ぎた再配信はStripe側の再送期限も過ぎているため、記録が無くても重複適用されない。
func (r *PostgresWebhookEventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old webhook events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted webhook events: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
