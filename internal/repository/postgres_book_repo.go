package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/bookvote/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// GetOrCreate はdedup_keyをキーに書籍を取得または作成する。
// 既存行がある場合はその書誌情報を維持する（DO UPDATEはdedup_keyを
// 自分自身で上書きするだけのno-opで、RETURNINGを成立させるために使う）。
func (r *PostgresBookRepo) GetOrCreate(ctx context.Context, book *model.Book) (*model.Book, error) {
	result := &model.Book{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO books (id, title, authors, isbn13, cover_url, dedup_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = EXCLUDED.dedup_key
		 RETURNING id, title, authors, isbn13, cover_url, dedup_key, created_at`,
		book.ID, book.Title, pq.Array(book.Authors), book.ISBN13,
		book.CoverURL, book.DedupKey, book.CreatedAt,
	).Scan(&result.ID, &result.Title, pq.Array(&result.Authors), &result.ISBN13,
		&result.CoverURL, &result.DedupKey, &result.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to get or create book: %w", err)
	}

	return result, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
