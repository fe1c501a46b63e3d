package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookvote/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// Upsert は (iteration_id, voter_id) をキーに投票をUPSERTする。
// 既存行がある場合はcandidate_idとupdated_atのみ差し替える。
// ユニーク制約が直列化点となり、同一ユーザーの並行投票でも行は1つに収束する。
func (r *PostgresVoteRepo) Upsert(ctx context.Context, vote *model.Vote) (*model.Vote, error) {
	result := &model.Vote{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO votes (id, iteration_id, voter_id, candidate_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (iteration_id, voter_id) DO UPDATE
		 SET candidate_id = EXCLUDED.candidate_id,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, iteration_id, voter_id, candidate_id, created_at, updated_at`,
		vote.ID, vote.IterationID, vote.VoterID, vote.CandidateID, vote.CreatedAt,
	).Scan(&result.ID, &result.IterationID, &result.VoterID, &result.CandidateID,
		&result.CreatedAt, &result.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert vote: %w", err)
	}

	return result, nil
}

// FindByVoterAndIteration はユーザーのイテレーション内の投票を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresVoteRepo) FindByVoterAndIteration(ctx context.Context, voterID, iterationID string) (*model.Vote, error) {
	v := &model.Vote{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, iteration_id, voter_id, candidate_id, created_at, updated_at
		 FROM votes WHERE voter_id = $1 AND iteration_id = $2`,
		voterID, iterationID,
	).Scan(&v.ID, &v.IterationID, &v.VoterID, &v.CandidateID, &v.CreatedAt, &v.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find vote: %w", err)
	}

	return v, nil
}

// CountByCandidate はイテレーション内の候補ごとの得票数を返す。
func (r *PostgresVoteRepo) CountByCandidate(ctx context.Context, iterationID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT candidate_id, COUNT(*)
		 FROM votes
		 WHERE iteration_id = $1
		 GROUP BY candidate_id`,
		iterationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var candidateID string
		var count int
		if err := rows.Scan(&candidateID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan vote count: %w", err)
		}
		counts[candidateID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vote counts: %w", err)
	}

	return counts, nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
