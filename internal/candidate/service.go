// Package candidate は書籍候補の提案・削除のドメインロジックを提供する。
package candidate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
	"github.com/hitoshi/bookvote/internal/security"
)

// ProposeInput は候補提案の入力を表す。
type ProposeInput struct {
	Title    string
	Authors  []string
	ISBN13   string
	CoverURL string
	Reason   string
}

// Info は候補と書籍・提案者・得票情報を結合したドメインオブジェクト。
type Info struct {
	ID           string
	IterationID  string
	Book         model.Book
	ProposerID   string
	ProposerName string
	Reason       string
	CreatedAt    time.Time
	Votes        *int // 投票が公開されていない間はnil
}

// Service は候補管理のサービス層。
// 提案の受け付け、削除、一覧取得のビジネスロジックを提供する。
// 重複判定や状態チェックは必ずストアを再読みして行い、
// プロセス内キャッシュには依存しない。
type Service struct {
	iterRepo  repository.IterationRepository
	bookRepo  repository.BookRepository
	candRepo  repository.CandidateRepository
	voteRepo  repository.VoteRepository
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizerService
	urlGuard  security.URLGuardService
	recorder  metrics.Recorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewService(
	iterRepo repository.IterationRepository,
	bookRepo repository.BookRepository,
	candRepo repository.CandidateRepository,
	voteRepo repository.VoteRepository,
	userRepo repository.UserRepository,
	sanitizer security.TextSanitizerService,
	urlGuard security.URLGuardService,
	recorder metrics.Recorder,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		iterRepo:  iterRepo,
		bookRepo:  bookRepo,
		candRepo:  candRepo,
		voteRepo:  voteRepo,
		userRepo:  userRepo,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
		recorder:  recorder,
		now:       now,
	}
}

// Propose は現在openなイテレーションに書籍候補を提案する。
// openなイテレーションがない場合はNO_OPEN_ITERATION、
// 同一書籍が既に提案済みの場合はDUPLICATE_CANDIDATEを返す。
// 書籍の同一性はISBN-13（あれば）、なければタイトル+著者で判定する。
func (s *Service) Propose(ctx context.Context, proposerID string, input ProposeInput) (*Info, error) {
	title := s.sanitizer.Sanitize(input.Title)
	if title == "" {
		return nil, model.NewInvalidRequestError("タイトルは必須です")
	}

	open, err := s.iterRepo.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("開催中イテレーションの取得に失敗しました: %w", err)
	}
	if open == nil {
		return nil, model.NewNoOpenIterationError()
	}

	// 書影URLは安全なものだけ保存する。不正なURLは提案自体を
	// 失敗させず、書影なしとして扱う。
	coverURL := input.CoverURL
	if coverURL != "" {
		if err := s.urlGuard.ValidateURL(coverURL); err != nil {
			slog.Warn("候補の書影URLを破棄しました",
				slog.String("cover_url", coverURL),
				slog.String("error", err.Error()),
			)
			coverURL = ""
		}
	}

	now := s.now()
	book, err := s.bookRepo.GetOrCreate(ctx, &model.Book{
		ID:        uuid.New().String(),
		Title:     title,
		Authors:   input.Authors,
		ISBN13:    model.NormalizeISBN13(input.ISBN13),
		CoverURL:  coverURL,
		DedupKey:  model.BookDedupKey(title, input.Authors, input.ISBN13),
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("書籍の登録に失敗しました: %w", err)
	}

	cand := &model.Candidate{
		ID:          uuid.New().String(),
		IterationID: open.ID,
		BookID:      book.ID,
		ProposerID:  proposerID,
		Reason:      s.sanitizer.Sanitize(input.Reason),
		CreatedAt:   now,
	}
	if err := s.candRepo.Create(ctx, cand); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, model.NewDuplicateCandidateError(book.Title)
		}
		return nil, fmt.Errorf("候補の登録に失敗しました: %w", err)
	}

	s.recorder.RecordCandidateProposed()
	slog.Info("candidate proposed",
		slog.String("candidate_id", cand.ID),
		slog.String("iteration_id", open.ID),
		slog.String("proposer_id", proposerID),
		slog.String("book_title", book.Title),
	)

	var proposerName string
	if proposer, err := s.userRepo.FindByID(ctx, proposerID); err == nil && proposer != nil {
		proposerName = proposer.DisplayName
	}

	return &Info{
		ID:           cand.ID,
		IterationID:  cand.IterationID,
		Book:         *book,
		ProposerID:   proposerID,
		ProposerName: proposerName,
		Reason:       cand.Reason,
		CreatedAt:    cand.CreatedAt,
	}, nil
}

// Remove は候補を削除する。
// 削除できるのは提案者本人か管理者のみで、イテレーションが
// closedになった後は削除できない。
func (s *Service) Remove(ctx context.Context, requesterID string, isAdmin bool, candidateID string) error {
	cand, err := s.candRepo.FindByID(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	if cand == nil {
		return model.NewCandidateNotFoundError(candidateID)
	}

	if cand.ProposerID != requesterID && !isAdmin {
		return model.NewForbiddenError()
	}

	iteration, err := s.iterRepo.FindByID(ctx, cand.IterationID)
	if err != nil {
		return fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil || iteration.Status == model.IterationClosed {
		return model.NewIterationNotActiveError()
	}

	deleted, err := s.candRepo.Delete(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("候補の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewCandidateNotFoundError(candidateID)
	}

	slog.Info("candidate removed",
		slog.String("candidate_id", candidateID),
		slog.String("requester_id", requesterID),
	)
	return nil
}

// ListByIteration はイテレーションの候補一覧を返す。
// 得票数は投票が公開設定のイテレーションかclosed後にのみ含める。
func (s *Service) ListByIteration(ctx context.Context, iterationID string) ([]Info, error) {
	iteration, err := s.iterRepo.FindByID(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("イテレーションの取得に失敗しました: %w", err)
	}
	if iteration == nil {
		return nil, model.NewIterationNotFoundError(iterationID)
	}

	rows, err := s.candRepo.ListByIteration(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("候補一覧の取得に失敗しました: %w", err)
	}

	showVotes := iteration.PublicVotes || iteration.Status == model.IterationClosed

	var counts map[string]int
	if showVotes {
		counts, err = s.voteRepo.CountByCandidate(ctx, iterationID)
		if err != nil {
			return nil, fmt.Errorf("得票数の取得に失敗しました: %w", err)
		}
	}

	results := make([]Info, len(rows))
	for i, row := range rows {
		info := Info{
			ID:           row.ID,
			IterationID:  row.IterationID,
			Book:         row.Book,
			ProposerID:   row.ProposerID,
			ProposerName: row.ProposerName,
			Reason:       row.Reason,
			CreatedAt:    row.Candidate.CreatedAt,
		}
		if showVotes {
			votes := counts[row.ID]
			info.Votes = &votes
		}
		results[i] = info
	}

	return results, nil
}
