package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresIdentityRepo はIdPアカウントとユーザーの紐付けを扱うリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// syncLinkedUserQuery は紐付くユーザーを引き当て、プロフィールが変わっていれば更新する。
// 変更がない場合はupdated_atを動かさない。空の表示名では既存の表示名を消さない。
const syncLinkedUserQuery = `
WITH linked AS (
	SELECT user_id FROM identities
	WHERE provider = $1 AND provider_user_id = $2
), synced AS (
	UPDATE users u
	SET email = $3, name = COALESCE(NULLIF($4, ''), u.name), updated_at = now()
	FROM linked
	WHERE u.id = linked.user_id
	  AND (u.email <> $3 OR u.name <> COALESCE(NULLIF($4, ''), u.name))
)
SELECT user_id FROM linked`

// SyncLinkedUser はIdPアカウントに紐付くユーザーIDを返し、
// 購入者のメールアドレスと表示名をIdPの最新値に揃える。
// 紐付けが存在しない場合は空文字列を返す。
func (r *PostgresIdentityRepo) SyncLinkedUser(ctx context.Context, link IdentityLink) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, syncLinkedUserQuery,
		link.Provider, link.ProviderUserID, link.Email, link.Name,
	).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to sync linked user: %w", err)
	}
	return userID, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
