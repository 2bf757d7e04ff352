package middleware

import (
	"log/slog"
	"net/http"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
)

// AdminChecker は管理者判定のインターフェース。
type AdminChecker interface {
	IsAdmin(userID string) bool
}

// NewAdminMiddleware は管理者以外のリクエストを403で拒否するミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func NewAdminMiddleware(checker AdminChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if !checker.IsAdmin(userID) {
				slog.Warn("admin access denied",
					slog.String("user_id", userID),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     model.ErrCodeForbidden,
					Message:  "管理者権限が必要です。",
					Category: "auth",
					Action:   "管理者アカウントでログインしてください。",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
