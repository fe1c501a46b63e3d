package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/bookvote/internal/model"
)

// uniqueViolationCode はPostgreSQLのunique_violationエラーコード。
const uniqueViolationCode = "23505"

// IsUniqueViolation はエラーがユニーク制約違反かを判定する。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}

// PostgresCandidateRepo はPostgreSQLを使用した候補リポジトリ。
type PostgresCandidateRepo struct {
	db *sql.DB
}

// NewPostgresCandidateRepo はPostgresCandidateRepoを生成する。
func NewPostgresCandidateRepo(db *sql.DB) *PostgresCandidateRepo {
	return &PostgresCandidateRepo{db: db}
}

// Create は候補を作成する。
// (iteration_id, book_id) のユニーク制約違反はラップせずそのまま返す。
func (r *PostgresCandidateRepo) Create(ctx context.Context, candidate *model.Candidate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO candidates (id, iteration_id, book_id, proposer_id, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		candidate.ID, candidate.IterationID, candidate.BookID,
		candidate.ProposerID, candidate.Reason, candidate.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert candidate: %w", err)
	}
	return nil
}

// FindByID は指定IDの候補を取得する。見つからない場合はnilを返す。
func (r *PostgresCandidateRepo) FindByID(ctx context.Context, id string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, iteration_id, book_id, proposer_id, reason, created_at
		 FROM candidates WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.IterationID, &c.BookID, &c.ProposerID, &c.Reason, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate by ID: %w", err)
	}

	return c, nil
}

// Delete は指定IDの候補を削除する。見つからない場合はfalseを返す。
func (r *PostgresCandidateRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete candidate: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListByIteration はイテレーションの候補一覧を書籍・提案者情報付きで返す。
// created_at昇順（同時刻はID昇順）で、この順序が同票時の勝者決定順になる。
func (r *PostgresCandidateRepo) ListByIteration(ctx context.Context, iterationID string) ([]CandidateWithBook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.iteration_id, c.book_id, c.proposer_id, c.reason, c.created_at,
		        b.id, b.title, b.authors, b.isbn13, b.cover_url, b.dedup_key, b.created_at,
		        u.display_name
		 FROM candidates c
		 JOIN books b ON b.id = c.book_id
		 JOIN users u ON u.id = c.proposer_id
		 WHERE c.iteration_id = $1
		 ORDER BY c.created_at, c.id`,
		iterationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var results []CandidateWithBook
	for rows.Next() {
		var cw CandidateWithBook
		err := rows.Scan(
			&cw.ID, &cw.IterationID, &cw.BookID, &cw.ProposerID, &cw.Reason, &cw.Candidate.CreatedAt,
			&cw.Book.ID, &cw.Book.Title, pq.Array(&cw.Book.Authors), &cw.Book.ISBN13,
			&cw.Book.CoverURL, &cw.Book.DedupKey, &cw.Book.CreatedAt,
			&cw.ProposerName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		results = append(results, cw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	return results, nil
}

// compile-time interface check
var _ CandidateRepository = (*PostgresCandidateRepo)(nil)
