package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	ProposalRate    rate.Limit    // 候補提案のレート（req/sec）。10/60
	ProposalBurst   int           // 候補提案のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min/user、候補提案 10 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		ProposalRate:    rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		ProposalBurst:   10,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はユーザーIDをキーとするリミッター群を排他制御付きで管理する。
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*userLimiter
	rate     rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*userLimiter),
		rate:     r,
		burst:    burst,
	}
}

// getOrCreate はユーザーのリミッターを取得または作成する。
func (ls *limiterSet) getOrCreate(userID string) *rate.Limiter {
	ls.mu.RLock()
	ul, exists := ls.limiters[userID]
	ls.mu.RUnlock()

	if exists {
		ls.mu.Lock()
		ul.lastAccess = time.Now()
		ls.mu.Unlock()
		return ul.limiter
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	// ダブルチェック
	if ul, exists := ls.limiters[userID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(ls.rate, ls.burst)
	ls.limiters[userID] = &userLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// count は現在管理されているエントリ数を返す。
func (ls *limiterSet) count() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.limiters)
}

// cleanup は最終アクセス時刻がttlを超えたエントリを削除する。
func (ls *limiterSet) cleanup(now time.Time, ttl time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for userID, ul := range ls.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(ls.limiters, userID)
		}
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般のレート制限と候補提案のレート制限の2種類を提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterSet
	proposal *limiterSet
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterSet(config.GeneralRate, config.GeneralBurst),
		proposal: newLimiterSet(config.ProposalRate, config.ProposalBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーが含まれている必要がある（AuthMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general")
}

// ProposalMiddleware は候補提案専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) ProposalMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.proposal, rl.config.ProposalRate, "proposal")
}

func (rl *RateLimiter) middleware(set *limiterSet, limit rate.Limit, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !set.getOrCreate(userID).Allow() {
				writeRateLimitResponse(w, limit)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// ProposalLimiterCount は現在管理されている候補提案リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) ProposalLimiterCount() int {
	return rl.proposal.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ttl := rl.config.CleanupInterval * 2
			now := time.Now()
			rl.general.cleanup(now, ttl)
			rl.proposal.cleanup(now, ttl)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
