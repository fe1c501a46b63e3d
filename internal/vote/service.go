// Package vote は投票台帳のドメインロジックを提供する。
// 1ユーザー1票の不変条件の強制、得票集計、勝者の決定を担う。
package vote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
)

// Winner は勝者決定の結果を表す。
type Winner struct {
	Candidate repository.CandidateWithBook
	Votes     int
	// Counts はイテレーション内の全候補の得票数。
	// 得票のない候補も0票として含まれる。
	Counts map[string]int
}

// Service は投票台帳のサービス層。
// 自己投票の禁止や状態チェックは必ずストアを再読みして行う。
type Service struct {
	iterRepo repository.IterationRepository
	candRepo repository.CandidateRepository
	voteRepo repository.VoteRepository
	recorder metrics.Recorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewService(
	iterRepo repository.IterationRepository,
	candRepo repository.CandidateRepository,
	voteRepo repository.VoteRepository,
	recorder metrics.Recorder,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		iterRepo: iterRepo,
		candRepo: candRepo,
		voteRepo: voteRepo,
		recorder: recorder,
		now:      now,
	}
}

// Cast は候補に投票する。各前提条件は順にハード失敗:
//  1. 候補が存在し、そのイテレーションがopenであること → ITERATION_NOT_ACTIVE
//  2. 候補の提案者が投票者自身でないこと → SELF_VOTE_FORBIDDEN
//  3. (iteration_id, voter_id) でUPSERT。既存の投票があれば投票先を
//     差し替える（openの間は何度でも切り替え可能）。
func (s *Service) Cast(ctx context.Context, voterID, candidateID string) (*model.Vote, error) {
	cand, err := s.candRepo.FindByID(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	if cand == nil {
		return nil, model.NewIterationNotActiveError()
	}

	iteration, err := s.iterRepo.FindByID(ctx, cand.IterationID)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil || iteration.Status != model.IterationOpen {
		return nil, model.NewIterationNotActiveError()
	}

	if cand.ProposerID == voterID {
		return nil, model.NewSelfVoteForbiddenError()
	}

	vote, err := s.voteRepo.Upsert(ctx, &model.Vote{
		ID:          uuid.New().String(),
		IterationID: cand.IterationID,
		VoterID:     voterID,
		CandidateID: candidateID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("投票の保存に失敗しました: %w", err)
	}

	s.recorder.RecordVoteCast()
	slog.Info("vote cast",
		slog.String("vote_id", vote.ID),
		slog.String("iteration_id", vote.IterationID),
		slog.String("candidate_id", vote.CandidateID),
	)

	return vote, nil
}

// Current は投票者の現在openなイテレーションでの投票を返す。
// openなイテレーションがない場合はNO_OPEN_ITERATION、
// まだ投票していない場合はnilを返す。
func (s *Service) Current(ctx context.Context, voterID string) (*model.Vote, error) {
	open, err := s.iterRepo.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("開催中イテレーションの取得に失敗しました: %w", err)
	}
	if open == nil {
		return nil, model.NewNoOpenIterationError()
	}

	vote, err := s.voteRepo.FindByVoterAndIteration(ctx, voterID, open.ID)
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}

	return vote, nil
}

// Tally はイテレーションの候補ごとの得票数を返す。
// 得票のない候補も候補集合から列挙して0票で含める。
func (s *Service) Tally(ctx context.Context, iterationID string) (map[string]int, error) {
	candidates, err := s.candRepo.ListByIteration(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("候補一覧の取得に失敗しました: %w", err)
	}

	counts, err := s.voteRepo.CountByCandidate(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("得票数の取得に失敗しました: %w", err)
	}

	tally := make(map[string]int, len(candidates))
	for _, cand := range candidates {
		tally[cand.ID] = counts[cand.ID]
	}

	return tally, nil
}

// PickWinner はイテレーションの勝者を決定する。
// 最多得票の候補が勝者で、同票の場合は先に登録された候補
// （created_at昇順、同時刻はID昇順）が勝つ。マップの列挙順には
// 依存せず、結果は常に再現可能。最多得票が0票の場合は勝者なし（nil）。
func (s *Service) PickWinner(ctx context.Context, iterationID string) (*Winner, error) {
	candidates, err := s.candRepo.ListByIteration(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("候補一覧の取得に失敗しました: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	counts, err := s.voteRepo.CountByCandidate(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("得票数の取得に失敗しました: %w", err)
	}

	tally := make(map[string]int, len(candidates))
	var winner *repository.CandidateWithBook
	best := 0
	// 登録順に走査し、厳密に上回った場合のみ勝者を更新する。
	// 同票では先頭側が残るため先着優先のタイブレークになる。
	for i := range candidates {
		count := counts[candidates[i].ID]
		tally[candidates[i].ID] = count
		if count > best {
			best = count
			winner = &candidates[i]
		}
	}

	if winner == nil {
		return nil, nil
	}

	return &Winner{
		Candidate: *winner,
		Votes:     best,
		Counts:    tally,
	}, nil
}
