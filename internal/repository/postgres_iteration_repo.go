package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookvote/internal/model"
)

// PostgresIterationRepo はPostgreSQLを使用したイテレーションリポジトリ。
type PostgresIterationRepo struct {
	db *sql.DB
}

// NewPostgresIterationRepo はPostgresIterationRepoを生成する。
func NewPostgresIterationRepo(db *sql.DB) *PostgresIterationRepo {
	return &PostgresIterationRepo{db: db}
}

const iterationColumns = `id, name, public_votes, status, opened_at, closed_at, deadline_at, created_at, updated_at`

// scanIteration は1行をmodel.Iterationに読み取る。
func scanIteration(row interface{ Scan(...any) error }) (*model.Iteration, error) {
	it := &model.Iteration{}
	err := row.Scan(&it.ID, &it.Name, &it.PublicVotes, &it.Status,
		&it.OpenedAt, &it.ClosedAt, &it.DeadlineAt, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Create はplanned状態のイテレーションを作成する。
func (r *PostgresIterationRepo) Create(ctx context.Context, iteration *model.Iteration) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO iterations (id, name, public_votes, status, deadline_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		iteration.ID, iteration.Name, iteration.PublicVotes, iteration.Status,
		iteration.DeadlineAt, iteration.CreatedAt, iteration.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}
	return nil
}

// FindByID は指定IDのイテレーションを取得する。見つからない場合はnilを返す。
func (r *PostgresIterationRepo) FindByID(ctx context.Context, id string) (*model.Iteration, error) {
	it, err := scanIteration(r.db.QueryRowContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find iteration by ID: %w", err)
	}
	return it, nil
}

// FindOpen は現在openなイテレーションを取得する。存在しない場合はnilを返す。
func (r *PostgresIterationRepo) FindOpen(ctx context.Context) (*model.Iteration, error) {
	it, err := scanIteration(r.db.QueryRowContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations WHERE status = 'open'`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open iteration: %w", err)
	}
	return it, nil
}

// MarkOpen はplanned状態のイテレーションをopenに遷移させる。
// 現在状態を条件に含むガード付きUPDATEで、状態が合わない場合はfalseを返す。
// open行の一意性はidx_iterations_single_openが保証し、
// 違反時はユニーク制約違反のエラーがそのまま返る。
func (r *PostgresIterationRepo) MarkOpen(ctx context.Context, id string, openedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE iterations
		 SET status = 'open', opened_at = $2, closed_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'planned'`,
		id, openedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark iteration open: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkClosed はopen状態のイテレーションをclosedに遷移させる。
// 状態が合わない場合はfalseを返す。
func (r *PostgresIterationRepo) MarkClosed(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE iterations
		 SET status = 'closed', closed_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'open'`,
		id, closedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark iteration closed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateDeadline はclosedでないイテレーションのdeadline_atを更新する。
func (r *PostgresIterationRepo) UpdateDeadline(ctx context.Context, id string, deadlineAt *time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE iterations
		 SET deadline_at = $2, updated_at = now()
		 WHERE id = $1 AND status <> 'closed'`,
		id, deadlineAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update iteration deadline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListDue は締切を過ぎたopenイテレーションを取得する。
// クローズ自体はMarkClosedのガード付きUPDATEで排他されるため、
// 複数プロセスのスイープが同じ行を拾っても遷移が成立するのは一方のみ。
func (r *PostgresIterationRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Iteration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+iterationColumns+`
		 FROM iterations
		 WHERE status = 'open' AND deadline_at IS NOT NULL AND deadline_at <= $1
		 ORDER BY deadline_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due iterations: %w", err)
	}
	defer rows.Close()

	var results []*model.Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		results = append(results, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due iterations: %w", err)
	}

	return results, nil
}

// List は全イテレーションを作成日時の降順で返す。
func (r *PostgresIterationRepo) List(ctx context.Context) ([]*model.Iteration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var results []*model.Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		results = append(results, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate iterations: %w", err)
	}

	return results, nil
}

// compile-time interface check
var _ IterationRepository = (*PostgresIterationRepo)(nil)
