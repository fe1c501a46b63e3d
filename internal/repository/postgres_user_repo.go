package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/bookvote/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, telegram_user_id, display_name, username, roles, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.TelegramUserID, &user.DisplayName, &user.Username,
		pq.Array(&user.Roles), &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// UpsertByTelegramID はTelegramユーザーIDをキーにユーザーをUPSERTする。
// 初回は空ロールで作成し、2回目以降は表示系フィールドのみ更新する。
// rolesはDO UPDATEの対象に含めない。
func (r *PostgresUserRepo) UpsertByTelegramID(ctx context.Context, telegramUserID int64, displayName, username string) (*model.User, error) {
	user := &model.User{}
	now := time.Now()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, telegram_user_id, display_name, username, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (telegram_user_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     username = EXCLUDED.username,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, telegram_user_id, display_name, username, roles, created_at, updated_at`,
		uuid.New().String(), telegramUserID, displayName, username, now,
	).Scan(&user.ID, &user.TelegramUserID, &user.DisplayName, &user.Username,
		pq.Array(&user.Roles), &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
