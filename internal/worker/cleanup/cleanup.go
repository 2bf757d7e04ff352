// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのログインセッションと、保持期間（デフォルト30日）を超過した
// Webhook処理記録を削除する。注文台帳（transactions）は対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// repository.PostgresSessionRepoが満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WebhookEventPurger は古いWebhook処理記録を削除するインターフェース。
// repository.PostgresWebhookEventRepoが満たす。
type WebhookEventPurger interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等な削除処理のみを行うため、重複実行しても安全。
type CleanupJob struct {
	sessions      SessionPurger
	events        WebhookEventPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // Webhook処理記録の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(sessions SessionPurger, events WebhookEventPurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:      sessions,
		events:        events,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Run は期限切れセッションと保持期間を超過したWebhook処理記録を削除する。
// セッション削除に失敗した場合もWebhook処理記録の削除は試み、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	sessions, sessErr := j.sessions.DeleteExpired(ctx, start)
	if sessErr != nil {
		j.logFailure("sessions", sessErr)
		sessErr = fmt.Errorf("sessionsのクリーンアップに失敗しました: %w", sessErr)
	}

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	events, eventErr := j.events.DeleteProcessedBefore(ctx, cutoff)
	if eventErr != nil {
		j.logFailure("webhook_events", eventErr)
		eventErr = fmt.Errorf("webhook_eventsのクリーンアップに失敗しました: %w", eventErr)
	}

	if sessErr != nil {
		return sessErr
	}
	if eventErr != nil {
		return eventErr
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_webhook_events", events),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("webhook_cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) logFailure(table string, err error) {
	j.logger.Error("クリーンアップの実行に失敗しました",
		slog.String("table", table),
		slog.String("error", err.Error()),
	)
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
