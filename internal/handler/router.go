package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookvote/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.UserVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	AuthService      AuthServiceInterface
	IterationService IterationServiceInterface
	CandidateService CandidateServiceInterface
	VoteService      VoteServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → (認証ルートのみ) Auth → RateLimit(General)
//
// 起動認証（POST /auth/telegram）とヘルスチェックは認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	iterHandler := NewIterationHandler(deps.IterationService)
	candHandler := NewCandidateHandler(deps.CandidateService)
	voteHandler := NewVoteHandler(deps.VoteService)

	// --- 認証不要のルート ---

	r.Get("/health", handleHealth)
	r.Post("/auth/telegram", authHandler.Login)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)

		// イテレーション
		r.Route("/api/iterations", func(r chi.Router) {
			r.Get("/", iterHandler.List)
			r.Get("/current", iterHandler.Current)
			r.Get("/{id}/candidates", candHandler.ListByIteration)

			// ライフサイクル操作は管理者のみ
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewAdminOnlyMiddleware())

				r.Post("/", iterHandler.Create)
				r.Post("/{id}/open", iterHandler.Open)
				r.Post("/{id}/close", iterHandler.Close)
				r.Put("/{id}/deadline", iterHandler.SetDeadline)
			})
		})

		// 候補
		r.Route("/api/candidates", func(r chi.Router) {
			// POST /api/candidates - 候補提案（提案専用レート制限を追加）
			r.With(deps.RateLimiter.ProposalMiddleware()).Post("/", candHandler.Propose)
			r.Delete("/{id}", candHandler.Remove)
		})

		// 投票
		r.Route("/api/votes", func(r chi.Router) {
			r.Put("/", voteHandler.Cast)
			r.Get("/me", voteHandler.Me)
		})
	})

	return r
}

// handleHealth はロードバランサー向けのヘルスチェックエンドポイント。
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
