// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/bookvote/internal/auth"
	"github.com/hitoshi/bookvote/internal/middleware"
	"github.com/hitoshi/bookvote/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Authenticate はMini Appの起動ペイロードを検証しセッションを発行する。
	Authenticate(ctx context.Context, rawInitData string) (*auth.Session, error)
}

// AuthHandler はMini App起動認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// loginRequest は起動認証リクエストのボディ。
// init_dataにはTelegram WebAppから渡されたクエリ文字列をそのまま入れる。
type loginRequest struct {
	InitData string `json:"init_data"`
}

// loginResponse は起動認証成功時のレスポンス。
type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID             string   `json:"id"`
	TelegramUserID int64    `json:"telegram_user_id"`
	DisplayName    string   `json:"display_name"`
	Username       string   `json:"username"`
	Roles          []string `json:"roles"`
	IsAdmin        bool     `json:"is_admin"`
}

// Login は起動ペイロードを検証してセッショントークンを発行する。
// POST /auth/telegram
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.InitData == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("init_dataが空です"))
		return
	}

	session, err := h.service.Authenticate(r.Context(), req.InitData)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      toUserResponse(session.User),
	})
}

// Me は現在の認証済みユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
func toUserResponse(user *model.User) userResponse {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:             user.ID,
		TelegramUserID: user.TelegramUserID,
		DisplayName:    user.DisplayName,
		Username:       user.Username,
		Roles:          roles,
		IsAdmin:        user.IsAdmin(),
	}
}
