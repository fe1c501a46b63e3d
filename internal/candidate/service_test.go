package candidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/model"
	"github.com/hitoshi/bookvote/internal/repository"
	"github.com/hitoshi/bookvote/internal/security"
)

// --- モック ---

type mockIterationRepo struct {
	createFn         func(ctx context.Context, iteration *model.Iteration) error
	findByIDFn       func(ctx context.Context, id string) (*model.Iteration, error)
	findOpenFn       func(ctx context.Context) (*model.Iteration, error)
	markOpenFn       func(ctx context.Context, id string, openedAt time.Time) (bool, error)
	markClosedFn     func(ctx context.Context, id string, closedAt time.Time) (bool, error)
	updateDeadlineFn func(ctx context.Context, id string, deadlineAt *time.Time) (bool, error)
	listDueFn        func(ctx context.Context, now time.Time) ([]*model.Iteration, error)
	listFn           func(ctx context.Context) ([]*model.Iteration, error)
}

func (m *mockIterationRepo) Create(ctx context.Context, iteration *model.Iteration) error {
	return m.createFn(ctx, iteration)
}

func (m *mockIterationRepo) FindByID(ctx context.Context, id string) (*model.Iteration, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockIterationRepo) FindOpen(ctx context.Context) (*model.Iteration, error) {
	return m.findOpenFn(ctx)
}

func (m *mockIterationRepo) MarkOpen(ctx context.Context, id string, openedAt time.Time) (bool, error) {
	return m.markOpenFn(ctx, id, openedAt)
}

func (m *mockIterationRepo) MarkClosed(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	return m.markClosedFn(ctx, id, closedAt)
}

func (m *mockIterationRepo) UpdateDeadline(ctx context.Context, id string, deadlineAt *time.Time) (bool, error) {
	return m.updateDeadlineFn(ctx, id, deadlineAt)
}

func (m *mockIterationRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Iteration, error) {
	return m.listDueFn(ctx, now)
}

func (m *mockIterationRepo) List(ctx context.Context) ([]*model.Iteration, error) {
	return m.listFn(ctx)
}

type mockBookRepo struct {
	getOrCreateFn func(ctx context.Context, book *model.Book) (*model.Book, error)
}

func (m *mockBookRepo) GetOrCreate(ctx context.Context, book *model.Book) (*model.Book, error) {
	return m.getOrCreateFn(ctx, book)
}

type mockCandidateRepo struct {
	createFn          func(ctx context.Context, candidate *model.Candidate) error
	findByIDFn        func(ctx context.Context, id string) (*model.Candidate, error)
	deleteFn          func(ctx context.Context, id string) (bool, error)
	listByIterationFn func(ctx context.Context, iterationID string) ([]repository.CandidateWithBook, error)
}

func (m *mockCandidateRepo) Create(ctx context.Context, candidate *model.Candidate) error {
	return m.createFn(ctx, candidate)
}

func (m *mockCandidateRepo) FindByID(ctx context.Context, id string) (*model.Candidate, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockCandidateRepo) Delete(ctx context.Context, id string) (bool, error) {
	return m.deleteFn(ctx, id)
}

func (m *mockCandidateRepo) ListByIteration(ctx context.Context, iterationID string) ([]repository.CandidateWithBook, error) {
	return m.listByIterationFn(ctx, iterationID)
}

type mockVoteRepo struct {
	upsertFn                  func(ctx context.Context, vote *model.Vote) (*model.Vote, error)
	findByVoterAndIterationFn func(ctx context.Context, voterID, iterationID string) (*model.Vote, error)
	countByCandidateFn        func(ctx context.Context, iterationID string) (map[string]int, error)
}

func (m *mockVoteRepo) Upsert(ctx context.Context, vote *model.Vote) (*model.Vote, error) {
	return m.upsertFn(ctx, vote)
}

func (m *mockVoteRepo) FindByVoterAndIteration(ctx context.Context, voterID, iterationID string) (*model.Vote, error) {
	return m.findByVoterAndIterationFn(ctx, voterID, iterationID)
}

func (m *mockVoteRepo) CountByCandidate(ctx context.Context, iterationID string) (map[string]int, error) {
	return m.countByCandidateFn(ctx, iterationID)
}

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	upsertByTelegramIDFn func(ctx context.Context, telegramUserID int64, displayName, username string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockUserRepo) UpsertByTelegramID(ctx context.Context, telegramUserID int64, displayName, username string) (*model.User, error) {
	return m.upsertByTelegramIDFn(ctx, telegramUserID, displayName, username)
}

type serviceDeps struct {
	iterRepo *mockIterationRepo
	bookRepo *mockBookRepo
	candRepo *mockCandidateRepo
	voteRepo *mockVoteRepo
	userRepo *mockUserRepo
}

func defaultDeps() *serviceDeps {
	return &serviceDeps{
		iterRepo: &mockIterationRepo{
			findOpenFn: func(ctx context.Context) (*model.Iteration, error) {
				return &model.Iteration{ID: "iter-1", Status: model.IterationOpen}, nil
			},
		},
		bookRepo: &mockBookRepo{
			getOrCreateFn: func(ctx context.Context, book *model.Book) (*model.Book, error) {
				return book, nil
			},
		},
		candRepo: &mockCandidateRepo{
			createFn: func(ctx context.Context, candidate *model.Candidate) error {
				return nil
			},
		},
		voteRepo: &mockVoteRepo{},
		userRepo: &mockUserRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return &model.User{ID: id, DisplayName: "太郎 山田"}, nil
			},
		},
	}
}

// testNow はテスト全体で使う固定時刻。提案のcreated_atに反映される。
var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(deps *serviceDeps) *Service {
	return NewService(
		deps.iterRepo,
		deps.bookRepo,
		deps.candRepo,
		deps.voteRepo,
		deps.userRepo,
		security.NewTextSanitizer(),
		security.NewURLGuard(),
		metrics.Noop{},
		func() time.Time { return testNow },
	)
}

func assertAPIErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", apiErr.Code, wantCode)
	}
}

// --- Propose ---

func TestPropose_Success(t *testing.T) {
	deps := defaultDeps()
	var createdBook *model.Book
	deps.bookRepo.getOrCreateFn = func(ctx context.Context, book *model.Book) (*model.Book, error) {
		createdBook = book
		return book, nil
	}
	var createdCand *model.Candidate
	deps.candRepo.createFn = func(ctx context.Context, candidate *model.Candidate) error {
		createdCand = candidate
		return nil
	}
	svc := newTestService(deps)

	info, err := svc.Propose(context.Background(), "user-1", ProposeInput{
		Title:    "そして誰もいなくなった",
		Authors:  []string{"アガサ・クリスティ"},
		ISBN13:   "978-4-15-131080-9",
		CoverURL: "https://covers.example.com/isbn/9784151310809.jpg",
		Reason:   "定番のミステリを読んでみたい",
	})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}

	if createdBook.ISBN13 != "9784151310809" {
		t.Errorf("ISBN13 = %q, want normalized %q", createdBook.ISBN13, "9784151310809")
	}
	if createdBook.DedupKey != "isbn:9784151310809" {
		t.Errorf("DedupKey = %q, want %q", createdBook.DedupKey, "isbn:9784151310809")
	}
	if createdCand.IterationID != "iter-1" {
		t.Errorf("IterationID = %q, want %q", createdCand.IterationID, "iter-1")
	}
	if createdCand.ProposerID != "user-1" {
		t.Errorf("ProposerID = %q, want %q", createdCand.ProposerID, "user-1")
	}
	if info.ProposerName != "太郎 山田" {
		t.Errorf("ProposerName = %q, want %q", info.ProposerName, "太郎 山田")
	}
	if info.Votes != nil {
		t.Error("Votes should not be set on a fresh proposal")
	}
	// 書籍と候補のcreated_atは注入した時計の値になる
	if !createdBook.CreatedAt.Equal(testNow) {
		t.Errorf("book CreatedAt = %v, want %v", createdBook.CreatedAt, testNow)
	}
	if !createdCand.CreatedAt.Equal(testNow) {
		t.Errorf("candidate CreatedAt = %v, want %v", createdCand.CreatedAt, testNow)
	}
}

func TestPropose_EmptyTitle_ReturnsInvalidRequest(t *testing.T) {
	svc := newTestService(defaultDeps())

	tests := []struct {
		name  string
		title string
	}{
		{"空文字", ""},
		{"空白のみ", "   "},
		{"タグのみ", "<script>alert(1)</script>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Propose(context.Background(), "user-1", ProposeInput{Title: tt.title})
			assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
		})
	}
}

func TestPropose_NoOpenIteration_ReturnsError(t *testing.T) {
	deps := defaultDeps()
	deps.iterRepo.findOpenFn = func(ctx context.Context) (*model.Iteration, error) {
		return nil, nil
	}
	svc := newTestService(deps)

	_, err := svc.Propose(context.Background(), "user-1", ProposeInput{Title: "銀河鉄道の夜"})
	assertAPIErrorCode(t, err, model.ErrCodeNoOpenIteration)
}

func TestPropose_DuplicateBook_ReturnsDuplicateCandidate(t *testing.T) {
	deps := defaultDeps()
	deps.candRepo.createFn = func(ctx context.Context, candidate *model.Candidate) error {
		return &pq.Error{Code: "23505"}
	}
	svc := newTestService(deps)

	_, err := svc.Propose(context.Background(), "user-1", ProposeInput{Title: "銀河鉄道の夜"})
	assertAPIErrorCode(t, err, model.ErrCodeDuplicateCandidate)
}

// TestPropose_UnsafeCoverURLDropped は不正な書影URLが提案自体を
// 失敗させず、書影なしとして保存されることを検証する。
func TestPropose_UnsafeCoverURLDropped(t *testing.T) {
	tests := []struct {
		name     string
		coverURL string
	}{
		{"内部IPアドレス", "http://169.254.169.254/latest/meta-data/"},
		{"localhost", "http://localhost/cover.jpg"},
		{"不正なスキーム", "file:///etc/passwd"},
		{"プライベートアドレス", "http://10.0.0.5/cover.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := defaultDeps()
			var createdBook *model.Book
			deps.bookRepo.getOrCreateFn = func(ctx context.Context, book *model.Book) (*model.Book, error) {
				createdBook = book
				return book, nil
			}
			svc := newTestService(deps)

			_, err := svc.Propose(context.Background(), "user-1", ProposeInput{
				Title:    "銀河鉄道の夜",
				CoverURL: tt.coverURL,
			})
			if err != nil {
				t.Fatalf("Propose returned error: %v", err)
			}
			if createdBook.CoverURL != "" {
				t.Errorf("CoverURL = %q, want empty", createdBook.CoverURL)
			}
		})
	}
}

func TestPropose_SanitizesReason(t *testing.T) {
	deps := defaultDeps()
	var createdCand *model.Candidate
	deps.candRepo.createFn = func(ctx context.Context, candidate *model.Candidate) error {
		createdCand = candidate
		return nil
	}
	svc := newTestService(deps)

	_, err := svc.Propose(context.Background(), "user-1", ProposeInput{
		Title:  "銀河鉄道の夜",
		Reason: `読みたい<img src=x onerror="alert(1)">本`,
	})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}
	if createdCand.Reason != "読みたい本" {
		t.Errorf("Reason = %q, want %q", createdCand.Reason, "読みたい本")
	}
}

// --- Remove ---

func TestRemove_PermissionMatrix(t *testing.T) {
	tests := []struct {
		name        string
		requesterID string
		isAdmin     bool
		wantCode    string // 空なら成功
	}{
		{"提案者本人", "proposer-1", false, ""},
		{"管理者", "admin-1", true, ""},
		{"他人かつ非管理者", "other-1", false, model.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := defaultDeps()
			deps.candRepo.findByIDFn = func(ctx context.Context, id string) (*model.Candidate, error) {
				return &model.Candidate{ID: id, IterationID: "iter-1", ProposerID: "proposer-1"}, nil
			}
			deps.candRepo.deleteFn = func(ctx context.Context, id string) (bool, error) {
				return true, nil
			}
			deps.iterRepo.findByIDFn = func(ctx context.Context, id string) (*model.Iteration, error) {
				return &model.Iteration{ID: id, Status: model.IterationOpen}, nil
			}
			svc := newTestService(deps)

			err := svc.Remove(context.Background(), tt.requesterID, tt.isAdmin, "cand-1")
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Remove returned error: %v", err)
				}
				return
			}
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestRemove_UnknownCandidate_ReturnsNotFound(t *testing.T) {
	deps := defaultDeps()
	deps.candRepo.findByIDFn = func(ctx context.Context, id string) (*model.Candidate, error) {
		return nil, nil
	}
	svc := newTestService(deps)

	err := svc.Remove(context.Background(), "user-1", false, "no-such-candidate")
	assertAPIErrorCode(t, err, model.ErrCodeCandidateNotFound)
}

func TestRemove_ClosedIteration_ReturnsIterationNotActive(t *testing.T) {
	deps := defaultDeps()
	deps.candRepo.findByIDFn = func(ctx context.Context, id string) (*model.Candidate, error) {
		return &model.Candidate{ID: id, IterationID: "iter-1", ProposerID: "proposer-1"}, nil
	}
	deps.iterRepo.findByIDFn = func(ctx context.Context, id string) (*model.Iteration, error) {
		return &model.Iteration{ID: id, Status: model.IterationClosed}, nil
	}
	deps.candRepo.deleteFn = func(ctx context.Context, id string) (bool, error) {
		t.Fatal("Delete should not be called for a closed iteration")
		return false, nil
	}
	svc := newTestService(deps)

	err := svc.Remove(context.Background(), "proposer-1", false, "cand-1")
	assertAPIErrorCode(t, err, model.ErrCodeIterationNotActive)
}

// --- ListByIteration ---

func listFixture() []repository.CandidateWithBook {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []repository.CandidateWithBook{
		{
			Candidate: model.Candidate{ID: "cand-1", IterationID: "iter-1", ProposerID: "user-1", CreatedAt: base},
			Book:      model.Book{ID: "book-1", Title: "坊っちゃん"},
		},
		{
			Candidate: model.Candidate{ID: "cand-2", IterationID: "iter-1", ProposerID: "user-2", CreatedAt: base.Add(time.Minute)},
			Book:      model.Book{ID: "book-2", Title: "こころ"},
		},
	}
}

func TestListByIteration_VoteVisibility(t *testing.T) {
	tests := []struct {
		name      string
		iteration *model.Iteration
		wantVotes bool
	}{
		{"非公開・open中は得票を隠す", &model.Iteration{ID: "iter-1", Status: model.IterationOpen, PublicVotes: false}, false},
		{"公開設定なら得票を含める", &model.Iteration{ID: "iter-1", Status: model.IterationOpen, PublicVotes: true}, true},
		{"closed後は常に得票を含める", &model.Iteration{ID: "iter-1", Status: model.IterationClosed, PublicVotes: false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := defaultDeps()
			deps.iterRepo.findByIDFn = func(ctx context.Context, id string) (*model.Iteration, error) {
				return tt.iteration, nil
			}
			deps.candRepo.listByIterationFn = func(ctx context.Context, iterationID string) ([]repository.CandidateWithBook, error) {
				return listFixture(), nil
			}
			deps.voteRepo.countByCandidateFn = func(ctx context.Context, iterationID string) (map[string]int, error) {
				return map[string]int{"cand-1": 2}, nil
			}
			svc := newTestService(deps)

			infos, err := svc.ListByIteration(context.Background(), "iter-1")
			if err != nil {
				t.Fatalf("ListByIteration returned error: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("len(infos) = %d, want 2", len(infos))
			}

			if !tt.wantVotes {
				for _, info := range infos {
					if info.Votes != nil {
						t.Errorf("candidate %s: expected hidden votes, got %d", info.ID, *info.Votes)
					}
				}
				return
			}

			if infos[0].Votes == nil || *infos[0].Votes != 2 {
				t.Errorf("candidate cand-1: unexpected votes %v", infos[0].Votes)
			}
			// 得票のない候補もゼロとして含まれる
			if infos[1].Votes == nil || *infos[1].Votes != 0 {
				t.Errorf("candidate cand-2: unexpected votes %v", infos[1].Votes)
			}
		})
	}
}

func TestListByIteration_UnknownIteration_ReturnsNotFound(t *testing.T) {
	deps := defaultDeps()
	deps.iterRepo.findByIDFn = func(ctx context.Context, id string) (*model.Iteration, error) {
		return nil, nil
	}
	svc := newTestService(deps)

	_, err := svc.ListByIteration(context.Background(), "no-such-iteration")
	assertAPIErrorCode(t, err, model.ErrCodeIterationNotFound)
}
