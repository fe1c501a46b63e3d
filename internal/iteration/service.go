// Package iteration はイテレーション（投票ラウンド）のライフサイクル管理を提供する。
// planned → open → closed の状態機械、締切スイープからのクローズ、
// 勝者決定と告知のオーケストレーションを担う。
package iteration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookvote/internal/broadcast"
	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
	"github.com/hitoshi/bookvote/internal/vote"
)

// CloseTrigger はクローズの契機を表す。メトリクスのラベルに使用する。
type CloseTrigger string

const (
	// TriggerManual は管理者による手動クローズ。
	TriggerManual CloseTrigger = "manual"
	// TriggerSweep は締切スイープによる自動クローズ。
	TriggerSweep CloseTrigger = "sweep"
)

// WinnerPicker は勝者決定のインターフェース。
// vote.Serviceの部分集合として定義する。
type WinnerPicker interface {
	PickWinner(ctx context.Context, iterationID string) (*vote.Winner, error)
}

// ServiceConfig はライフサイクルサービスの設定。
type ServiceConfig struct {
	AnnounceChatID   string        // 告知先のチャットID
	BroadcastTimeout time.Duration // 告知送信の上限時間
}

// Service はイテレーションのライフサイクルを管理するサービス層。
// 「どのイテレーションがopenか」の真実はストアのみが持ち、
// 状態遷移はガード付きUPDATEと部分ユニークインデックスで保護される。
type Service struct {
	iterRepo repository.IterationRepository
	picker   WinnerPicker
	sender   broadcast.Sender
	recorder metrics.Recorder
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewService(
	iterRepo repository.IterationRepository,
	picker WinnerPicker,
	sender broadcast.Sender,
	recorder metrics.Recorder,
	config ServiceConfig,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		iterRepo: iterRepo,
		picker:   picker,
		sender:   sender,
		recorder: recorder,
		config:   config,
		now:      now,
	}
}

// Create はplanned状態のイテレーションを作成する。
func (s *Service) Create(ctx context.Context, name string, publicVotes bool, deadline *time.Time) (*model.Iteration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewInvalidRequestError("イテレーション名は必須です")
	}

	now := s.now()
	iteration := &model.Iteration{
		ID:          uuid.New().String(),
		Name:        name,
		PublicVotes: publicVotes,
		Status:      model.IterationPlanned,
		DeadlineAt:  deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.iterRepo.Create(ctx, iteration); err != nil {
		return nil, fmt.Errorf("イテレーションの作成に失敗しました: %w", err)
	}

	slog.Info("iteration created",
		slog.String("iteration_id", iteration.ID),
		slog.String("name", iteration.Name),
	)

	return iteration, nil
}

// Open はイテレーションをplannedからopenに遷移させる。
// plannedでない場合、または既に別のイテレーションがopenな場合は
// INVALID_TRANSITIONを返す。単一open不変条件はストアの部分ユニーク
// インデックスが最終的に保証する。
func (s *Service) Open(ctx context.Context, id string) (*model.Iteration, error) {
	iteration, err := s.iterRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil {
		return nil, model.NewIterationNotFoundError(id)
	}
	if iteration.Status != model.IterationPlanned {
		return nil, model.NewInvalidTransitionError(iteration.Status, "open")
	}

	ok, err := s.iterRepo.MarkOpen(ctx, id, s.now())
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, &model.APIError{
				Code:     model.ErrCodeInvalidTransition,
				Message:  "すでに開催中のイテレーションがあります。",
				Category: "voting",
				Action:   "開催中のイテレーションをクローズしてから開始してください。",
			}
		}
		return nil, fmt.Errorf("イテレーションのオープンに失敗しました: %w", err)
	}
	if !ok {
		// 事前チェックと更新の間に状態が変わった場合
		return nil, model.NewInvalidTransitionError(iteration.Status, "open")
	}

	slog.Info("iteration opened", slog.String("iteration_id", id))

	return s.reload(ctx, id)
}

// Close はイテレーションをopenからclosedに遷移させ、勝者を告知する。
// 告知はベストエフォートの副作用であり、失敗しても遷移は
// ロールバックされず、エラーも呼び出し元に伝播しない。
func (s *Service) Close(ctx context.Context, id string, trigger CloseTrigger) (*model.Iteration, error) {
	iteration, err := s.iterRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil {
		return nil, model.NewIterationNotFoundError(id)
	}
	if iteration.Status != model.IterationOpen {
		return nil, model.NewInvalidTransitionError(iteration.Status, "close")
	}

	ok, err := s.iterRepo.MarkClosed(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("イテレーションのクローズに失敗しました: %w", err)
	}
	if !ok {
		// 並行するスイープ/手動クローズに先を越された場合
		return nil, model.NewInvalidTransitionError(model.IterationClosed, "close")
	}

	s.recorder.RecordIterationClosed(string(trigger))
	slog.Info("iteration closed",
		slog.String("iteration_id", id),
		slog.String("trigger", string(trigger)),
	)

	// この時点でイテレーションはclosed済み。告知の成否は状態に影響しない。
	s.announceWinner(ctx, iteration)

	return s.reload(ctx, id)
}

// SetDeadline はclosedでないイテレーションの締切を変更する。状態は変えない。
func (s *Service) SetDeadline(ctx context.Context, id string, deadline *time.Time) (*model.Iteration, error) {
	iteration, err := s.iterRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil {
		return nil, model.NewIterationNotFoundError(id)
	}
	if iteration.Status == model.IterationClosed {
		return nil, model.NewInvalidTransitionError(iteration.Status, "setDeadline")
	}

	ok, err := s.iterRepo.UpdateDeadline(ctx, id, deadline)
	if err != nil {
		return nil, fmt.Errorf("締切の更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewInvalidTransitionError(model.IterationClosed, "setDeadline")
	}

	return s.reload(ctx, id)
}

// List は全イテレーションを返す。
func (s *Service) List(ctx context.Context) ([]*model.Iteration, error) {
	iterations, err := s.iterRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("イテレーション一覧の取得に失敗しました: %w", err)
	}
	return iterations, nil
}

// FindOpen は現在openなイテレーションを返す。存在しない場合はnil。
func (s *Service) FindOpen(ctx context.Context) (*model.Iteration, error) {
	iteration, err := s.iterRepo.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("開催中イテレーションの取得に失敗しました: %w", err)
	}
	return iteration, nil
}

// announceWinner は勝者を決定し告知メッセージを送信する。
// 最多得票が0票の場合は勝者なしとして告知しない。
// 失敗はすべてログとメトリクスに記録するのみで、呼び出し元には返さない。
func (s *Service) announceWinner(ctx context.Context, iteration *model.Iteration) {
	winner, err := s.picker.PickWinner(ctx, iteration.ID)
	if err != nil {
		s.recorder.RecordBroadcastFailure()
		slog.Error("勝者の決定に失敗しました",
			slog.String("iteration_id", iteration.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if winner == nil {
		slog.Info("投票がないため告知をスキップします",
			slog.String("iteration_id", iteration.ID),
		)
		return
	}

	text := composeAnnouncement(iteration, winner)

	// 外部エンドポイントの遅延でクローズ処理を止めないよう上限を設ける
	sendCtx, cancel := context.WithTimeout(ctx, s.config.BroadcastTimeout)
	defer cancel()

	_, err = s.sender.Send(sendCtx, broadcast.Message{
		ChatID:    s.config.AnnounceChatID,
		Text:      text,
		ParseMode: broadcast.ParseModePlain,
		ImageURL:  winner.Candidate.Book.CoverURL,
	})
	if err != nil {
		s.recorder.RecordBroadcastFailure()
		slog.Error("当選告知の送信に失敗しました",
			slog.String("iteration_id", iteration.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("winner announced",
		slog.String("iteration_id", iteration.ID),
		slog.String("candidate_id", winner.Candidate.ID),
		slog.Int("votes", winner.Votes),
	)
}

// composeAnnouncement は当選告知の本文を組み立てる。
func composeAnnouncement(iteration *model.Iteration, winner *vote.Winner) string {
	book := winner.Candidate.Book

	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s の投票結果\n\n", iteration.Name)
	fmt.Fprintf(&b, "今回の一冊は『%s』に決まりました！\n", book.Title)
	if len(book.Authors) > 0 {
		fmt.Fprintf(&b, "著者: %s\n", strings.Join(book.Authors, ", "))
	}
	if winner.Candidate.ProposerName != "" {
		fmt.Fprintf(&b, "提案者: %s\n", winner.Candidate.ProposerName)
	}
	fmt.Fprintf(&b, "得票数: %d票", winner.Votes)

	return b.String()
}

// reload は更新後のイテレーションを取得して返す。
func (s *Service) reload(ctx context.Context, id string) (*model.Iteration, error) {
	iteration, err := s.iterRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの再取得に失敗しました: %w", err)
	}
	if iteration == nil {
		return nil, model.NewIterationNotFoundError(id)
	}
	return iteration, nil
}
