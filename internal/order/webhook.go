package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/payment"
)

// WebhookOutcome はWebhookイベントの処理結果。
type WebhookOutcome string

const (
	// WebhookProcessed は台帳に反映したことを表す。
	WebhookProcessed WebhookOutcome = "processed"
	// WebhookIgnored は受理したが台帳を変更しなかったことを表す。
	WebhookIgnored WebhookOutcome = "ignored"
	// WebhookDuplicate は処理済みイベントの再配信を表す。
	WebhookDuplicate WebhookOutcome = "duplicate"
)

// WebhookResult は受理したWebhookイベントの処理結果。
type WebhookResult struct {
	EventID   string
	EventType string
	SessionID string
	Outcome   WebhookOutcome
}

// HandleWebhookEvent は署名付きの決済Webhookを検証し、注文台帳に反映する。
// 返すエラーは*model.APIErrorで、ストレージ障害はInternalErrorとしてゲートウェイに再送させる。
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.logger.Warn("Webhook署名の検証に失敗しました",
				slog.String("error", err.Error()),
				slog.Bool("signature_present", signatureHeader != ""),
			)
			s.metrics.RecordWebhookEvent("unknown", "invalid_signature")
			return nil, model.NewInvalidSignatureError(err)
		}
		s.logger.Warn("Webhookイベントの解析に失敗しました",
			slog.String("error", err.Error()),
		)
		s.metrics.RecordWebhookEvent("unknown", "invalid_payload")
		return nil, model.NewInvalidPayloadError(err)
	}

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: event.Type,
		SessionID: event.SessionID(),
	}
	log := s.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("session_id", result.SessionID),
	)

	seen, err := s.events.Exists(ctx, event.ID)
	if err != nil {
		s.metrics.RecordWebhookEvent(event.Type, "error")
		return nil, model.NewInternalError(fmt.Errorf("Webhookイベントの重複確認に失敗しました: %w", err))
	}
	if seen {
		log.Info("処理済みのWebhookイベントを受信しました")
		result.Outcome = WebhookDuplicate
		s.metrics.RecordWebhookEvent(event.Type, string(result.Outcome))
		return result, nil
	}

	outcome, err := s.applyEvent(ctx, log, event)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidMetadata {
			s.metrics.RecordWebhookEvent(event.Type, "invalid_metadata")
		} else {
			s.metrics.RecordWebhookEvent(event.Type, "error")
		}
		return nil, err
	}

	if err := s.events.Record(ctx, &model.WebhookEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		SessionID:   result.SessionID,
		ProcessedAt: s.now(),
	}); err != nil {
		s.metrics.RecordWebhookEvent(event.Type, "error")
		return nil, model.NewInternalError(fmt.Errorf("Webhookイベントの記録に失敗しました: %w", err))
	}

	result.Outcome = outcome
	s.metrics.RecordWebhookEvent(event.Type, string(outcome))
	return result, nil
}

// applyEvent はイベント種別に応じて台帳を更新する。
func (s *Service) applyEvent(ctx context.Context, log *slog.Logger, event *payment.Event) (WebhookOutcome, error) {
	switch event.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutAsyncPaymentSucceeded,
		payment.EventCheckoutExpired, payment.EventCheckoutAsyncPaymentFailed:
		if event.Session == nil {
			return "", model.NewInvalidPayloadError(errors.New("checkout event without session object"))
		}
	default:
		log.Debug("対象外のWebhookイベントを無視しました")
		return WebhookIgnored, nil
	}

	switch event.Type {
	case payment.EventCheckoutCompleted:
		// 遅延決済（銀行振込等）では完了時点で未入金のため、async_payment_succeededを待つ。
		// no_payment_requiredには後続イベントが無く取引はPENDINGのまま残る。
		// 価格は1以上に制限しプロモーションコードも有効にしていないため現状は発生しない。
		// 割引コードを導入する場合はここで確定扱いにすること。
		if event.Session.PaymentStatus != payment.PaymentStatusPaid {
			log.Info("未入金のチェックアウト完了イベントのため取引を保留のままにします",
				slog.String("payment_status", event.Session.PaymentStatus),
			)
			return WebhookIgnored, nil
		}
		return s.completeSession(ctx, log, event.Session)
	case payment.EventCheckoutAsyncPaymentSucceeded:
		return s.completeSession(ctx, log, event.Session)
	default:
		return s.failSession(ctx, log, event.Session)
	}
}

// completeSession はセッションの取引をCOMPLETEDにする。
// 取引が存在しない場合はイベントの金額・通貨で新規作成する。
func (s *Service) completeSession(ctx context.Context, log *slog.Logger, sess *payment.SessionObject) (WebhookOutcome, error) {
	productID := sess.Metadata[payment.MetadataProductID]
	userID := sess.Metadata[payment.MetadataUserID]

	var missing []string
	if productID == "" {
		missing = append(missing, payment.MetadataProductID)
	}
	if userID == "" {
		missing = append(missing, payment.MetadataUserID)
	}
	if len(missing) > 0 {
		log.Error("決済完了イベントのメタデータが不足しています",
			slog.Any("missing", missing),
		)
		return "", model.NewInvalidMetadataError(missing)
	}

	now := s.now()
	prev, err := s.ledger.UpsertCompleted(ctx, &model.Transaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProductID:         productID,
		ExternalSessionID: sess.ID,
		Amount:            sess.AmountTotal,
		Currency:          sess.Currency,
		Status:            model.TransactionStatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return "", model.NewInternalError(fmt.Errorf("取引の確定に失敗しました: %w", err))
	}

	attrs := []any{
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.String("previous_status", string(prev)),
	}
	switch prev {
	case model.TransactionStatusCompleted:
		log.Info("取引は既に確定済みです", attrs...)
		return WebhookProcessed, nil
	case model.TransactionStatusFailed:
		// 入金済みのため確定を優先する
		log.Warn("失敗扱いの取引を決済完了により確定しました", attrs...)
	case "":
		log.Warn("保留中の取引が無いセッションの決済完了を新規に記録しました", attrs...)
	default:
		log.Info("取引を確定しました", attrs...)
	}

	s.metrics.RecordLedgerTransition(string(model.TransactionStatusCompleted))
	return WebhookProcessed, nil
}

// failSession はセッションの取引がPENDINGの場合のみFAILEDにする。
func (s *Service) failSession(ctx context.Context, log *slog.Logger, sess *payment.SessionObject) (WebhookOutcome, error) {
	updated, err := s.ledger.MarkFailedIfPending(ctx, sess.ID)
	if err != nil {
		return "", model.NewInternalError(fmt.Errorf("取引の失敗処理に失敗しました: %w", err))
	}
	if !updated {
		log.Info("保留中の取引が無いため失敗処理をスキップしました")
		return WebhookIgnored, nil
	}

	log.Info("取引を失敗として記録しました")
	s.metrics.RecordLedgerTransition(string(model.TransactionStatusFailed))
	return WebhookProcessed, nil
}
