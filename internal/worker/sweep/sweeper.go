// Package sweep は締切を過ぎたイテレーションのバックグラウンド自動クローズを提供する。
// ティッカーによる定期実行と起動直後の即時実行を行う。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bookvote/internal/iteration"
	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
)

// IterationCloser はイテレーションのクローズ実行インターフェース。
// iteration.Serviceの部分集合として定義する。
type IterationCloser interface {
	// Close はイテレーションをクローズし、勝者告知までを行う。
	Close(ctx context.Context, id string, trigger iteration.CloseTrigger) (*model.Iteration, error)
}

// Sweeper は締切スイープのスケジューリングを行う。
// 分単位のティッカーで締切超過のopenイテレーションを取得し、
// 1件ずつ順にクローズする。スイープは重ならない（RunOnceが
// 完了してから次のティックを処理する）。
type Sweeper struct {
	iterRepo repository.IterationRepository
	closer   IterationCloser
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewSweeper(
	iterRepo repository.IterationRepository,
	closer IterationCloser,
	recorder metrics.Recorder,
	logger *slog.Logger,
	now func() time.Time,
) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		iterRepo: iterRepo,
		closer:   closer,
		recorder: recorder,
		logger:   logger,
		now:      now,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまで
// 定期実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("締切スイープを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("締切スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("締切スイープを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("締切スイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は締切超過のopenイテレーションを1回取得し、順にクローズする。
// 1件の失敗はログに記録するのみで、残りの処理は継続する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := s.now()

	due, err := s.iterRepo.ListDue(ctx, start)
	if err != nil {
		return err
	}

	if len(due) == 0 {
		s.recorder.RecordSweepLatency(time.Since(start))
		return nil
	}

	s.logger.Info("締切超過のイテレーションをクローズします",
		slog.Int("count", len(due)),
	)

	for _, it := range due {
		if _, err := s.closer.Close(ctx, it.ID, iteration.TriggerSweep); err != nil {
			s.logger.Error("イテレーションの自動クローズに失敗しました",
				slog.String("iteration_id", it.ID),
				slog.String("name", it.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("イテレーションを自動クローズしました",
			slog.String("iteration_id", it.ID),
			slog.String("name", it.Name),
		)
	}

	s.recorder.RecordSweepLatency(time.Since(start))
	return nil
}
