package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/bookvote/internal/model"
)

// testRateLimiterConfig はテスト用の小さなバーストの設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0), // 1 req/sec
		GeneralBurst:    3,
		ProposalRate:    rate.Limit(10.0 / 60.0),
		ProposalBurst:   2,
		CleanupInterval: time.Hour,
	}
}

func rateLimitedRequest(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/iterations", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: userID}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	called := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		if rec := rateLimitedRequest(handler, "user-1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
	if called != 3 {
		t.Errorf("handler called %d times, want 3", called)
	}
}

func TestGeneralMiddleware_BurstExhausted_Returns429(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rateLimitedRequest(handler, "user-1")
	}

	rec := rateLimitedRequest(handler, "user-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header is not a number: %q", rec.Header().Get("Retry-After"))
	}
	if retryAfter < 1 {
		t.Errorf("Retry-After = %d, want >= 1", retryAfter)
	}
}

// TestGeneralMiddleware_UsersAreIsolated はユーザーごとに独立した
// バケットが使われることを検証する。
func TestGeneralMiddleware_UsersAreIsolated(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 4; i++ {
		rateLimitedRequest(handler, "user-1")
	}

	if rec := rateLimitedRequest(handler, "user-2"); rec.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want 200 (independent bucket)", rec.Code)
	}
}

// TestProposalMiddleware_IndependentOfGeneral は提案用のレート制限が
// API全般の制限とは別のバケットで動作することを検証する。
func TestProposalMiddleware_IndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	proposal := rl.ProposalMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 提案のバースト（2）を使い切る
	for i := 0; i < 2; i++ {
		if rec := rateLimitedRequest(proposal, "user-1"); rec.Code != http.StatusOK {
			t.Fatalf("proposal request %d: status = %d, want 200", i, rec.Code)
		}
	}
	if rec := rateLimitedRequest(proposal, "user-1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("proposal status = %d, want 429", rec.Code)
	}

	// API全般の制限には影響しない
	if rec := rateLimitedRequest(general, "user-1"); rec.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_NoUserInContext_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/iterations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLimiterCounts(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rateLimitedRequest(handler, "user-1")
	rateLimitedRequest(handler, "user-2")
	rateLimitedRequest(handler, "user-1")

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
	if got := rl.ProposalLimiterCount(); got != 0 {
		t.Errorf("ProposalLimiterCount = %d, want 0", got)
	}
}

func TestLimiterSet_CleanupRemovesStaleEntries(t *testing.T) {
	set := newLimiterSet(rate.Limit(1.0), 1)
	set.getOrCreate("user-1")
	set.getOrCreate("user-2")

	if got := set.count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	// 全エントリがTTLを超えた時点を指定する
	set.cleanup(time.Now().Add(time.Hour), 30*time.Minute)

	if got := set.count(); got != 0 {
		t.Errorf("count after cleanup = %d, want 0", got)
	}
}
