// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/bookvote/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserVerifier はセッショントークンの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type UserVerifier interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// トークン不在・検証失敗のいずれも401 Unauthorizedを返す。
func NewAuthMiddleware(verifier UserVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := verifier.CurrentUser(r.Context(), token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminOnlyMiddleware はadminロールを持たないユーザーを403で拒否するミドルウェアを返す。
// AuthMiddlewareの後に配置すること。
func NewAdminOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !user.IsAdmin() {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキームの大文字小文字は区別しない。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// AuthMiddlewareを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
