package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookvote/internal/iteration"
	"github.com/hitoshi/bookvote/internal/model"
)

// IterationServiceInterface はイテレーションハンドラーが必要とするサービスインターフェース。
type IterationServiceInterface interface {
	// Create はplanned状態のイテレーションを作成する。
	Create(ctx context.Context, name string, publicVotes bool, deadline *time.Time) (*model.Iteration, error)
	// Open はイテレーションを開始する。
	Open(ctx context.Context, id string) (*model.Iteration, error)
	// Close はイテレーションを終了し、勝者の告知を試みる。
	Close(ctx context.Context, id string, trigger iteration.CloseTrigger) (*model.Iteration, error)
	// SetDeadline は締切を設定または解除する。
	SetDeadline(ctx context.Context, id string, deadline *time.Time) (*model.Iteration, error)
	// List は全イテレーションを新しい順に返す。
	List(ctx context.Context) ([]*model.Iteration, error)
	// FindOpen は開催中のイテレーションを返す。存在しない場合はnil。
	FindOpen(ctx context.Context) (*model.Iteration, error)
}

// IterationHandler はイテレーション管理のHTTPハンドラー。
type IterationHandler struct {
	service IterationServiceInterface
}

// NewIterationHandler はIterationHandlerを生成する。
func NewIterationHandler(service IterationServiceInterface) *IterationHandler {
	return &IterationHandler{service: service}
}

// createIterationRequest はイテレーション作成リクエストのボディ。
type createIterationRequest struct {
	Name        string     `json:"name"`
	PublicVotes bool       `json:"public_votes"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

// setDeadlineRequest は締切設定リクエストのボディ。deadline_atがnullなら締切を解除する。
type setDeadlineRequest struct {
	DeadlineAt *time.Time `json:"deadline_at"`
}

// iterationResponse はイテレーション情報のAPIレスポンス。
type iterationResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PublicVotes bool       `json:"public_votes"`
	Status      string     `json:"status"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	DeadlineAt  *time.Time `json:"deadline_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Create はイテレーションを作成する。
// POST /api/iterations
func (h *IterationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIterationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	iter, err := h.service.Create(r.Context(), req.Name, req.PublicVotes, req.DeadlineAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toIterationResponse(iter))
}

// Open はイテレーションを開始する。
// POST /api/iterations/:id/open
func (h *IterationHandler) Open(w http.ResponseWriter, r *http.Request) {
	iter, err := h.service.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIterationResponse(iter))
}

// Close はイテレーションを終了する。
// POST /api/iterations/:id/close
func (h *IterationHandler) Close(w http.ResponseWriter, r *http.Request) {
	iter, err := h.service.Close(r.Context(), chi.URLParam(r, "id"), iteration.TriggerManual)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIterationResponse(iter))
}

// SetDeadline は締切を設定または解除する。
// PUT /api/iterations/:id/deadline
func (h *IterationHandler) SetDeadline(w http.ResponseWriter, r *http.Request) {
	var req setDeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	iter, err := h.service.SetDeadline(r.Context(), chi.URLParam(r, "id"), req.DeadlineAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIterationResponse(iter))
}

// List は全イテレーションを返す。
// GET /api/iterations
func (h *IterationHandler) List(w http.ResponseWriter, r *http.Request) {
	iters, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]iterationResponse, len(iters))
	for i, iter := range iters {
		results[i] = toIterationResponse(iter)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// Current は開催中のイテレーションを返す。
// GET /api/iterations/current
func (h *IterationHandler) Current(w http.ResponseWriter, r *http.Request) {
	iter, err := h.service.FindOpen(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if iter == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNoOpenIterationError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIterationResponse(iter))
}

// --- ヘルパー関数 ---

// toIterationResponse はmodel.IterationからAPIレスポンスに変換する。
func toIterationResponse(iter *model.Iteration) iterationResponse {
	return iterationResponse{
		ID:          iter.ID,
		Name:        iter.Name,
		PublicVotes: iter.PublicVotes,
		Status:      string(iter.Status),
		OpenedAt:    iter.OpenedAt,
		ClosedAt:    iter.ClosedAt,
		DeadlineAt:  iter.DeadlineAt,
		CreatedAt:   iter.CreatedAt,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidTransition, model.ErrCodeIterationNotActive, model.ErrCodeDuplicateCandidate:
		return http.StatusConflict
	case model.ErrCodeSelfVoteForbidden:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNoOpenIteration, model.ErrCodeIterationNotFound, model.ErrCodeCandidateNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
