// Package admin は管理画面向けの取引・ユーザー参照と売上集計を提供する。
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
)

const (
	// DefaultLimit は一覧取得件数の既定値。
	DefaultLimit = 50
	// MaxLimit は一覧取得件数の上限。
	MaxLimit = 500
	// DefaultTopProducts は売上上位テンプレートの既定件数。
	DefaultTopProducts = 10
)

// Service は管理画面のサービス層。台帳は参照のみ行う。
type Service struct {
	transactions repository.TransactionRepository
	users        repository.UserRepository
	sessions     repository.SessionRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	transactions repository.TransactionRepository,
	users repository.UserRepository,
	sessions repository.SessionRepository,
) *Service {
	return &Service{
		transactions: transactions,
		users:        users,
		sessions:     sessions,
	}
}

// ListTransactions は取引を作成日時の降順で返す。
// statusが空の場合は全ステータスを対象とし、未定義のステータスはInvalidRequestとする。
func (s *Service) ListTransactions(ctx context.Context, status string, limit int) ([]*model.Transaction, error) {
	st := model.TransactionStatus(status)
	if st != "" && !st.Valid() {
		return nil, model.NewInvalidRequestError()
	}

	txs, err := s.transactions.List(ctx, repository.TransactionFilter{
		Status: st,
		Limit:  normalizeLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("取引一覧の取得に失敗しました: %w", err)
	}
	if txs == nil {
		txs = []*model.Transaction{}
	}
	return txs, nil
}

// ListUsers は購入件数付きのユーザー一覧を登録日時の降順で返す。
func (s *Service) ListUsers(ctx context.Context, limit int) ([]repository.UserSummary, error) {
	users, err := s.users.ListWithPurchaseStats(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []repository.UserSummary{}
	}
	return users, nil
}

// SalesReport はステータス別件数、通貨別売上、売上上位テンプレートを返す。
func (s *Service) SalesReport(ctx context.Context, topN int) (*repository.SalesReport, error) {
	if topN <= 0 || topN > MaxLimit {
		topN = DefaultTopProducts
	}
	report, err := s.transactions.SalesReport(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("売上集計に失敗しました: %w", err)
	}
	// 取引が無いステータスも0件として返す
	for _, st := range []model.TransactionStatus{
		model.TransactionStatusPending,
		model.TransactionStatusCompleted,
		model.TransactionStatusFailed,
	} {
		if _, ok := report.CountByStatus[st]; !ok {
			report.CountByStatus[st] = 0
		}
	}
	if report.TopProducts == nil {
		report.TopProducts = []repository.ProductSales{}
	}
	return report, nil
}

// DeleteUser はユーザーのアカウントを削除する。
// 削除順序: sessions → user（+ CASCADE: identities）。
// 取引記録は売上の監査のため残す。
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("ユーザー削除を開始します",
		slog.String("user_id", userID),
	)

	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.users.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザー削除が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
