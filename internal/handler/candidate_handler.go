package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookvote/internal/candidate"
	"github.com/hitoshi/bookvote/internal/middleware"
	"github.com/hitoshi/bookvote/internal/model"
)

// CandidateServiceInterface は候補ハンドラーが必要とするサービスインターフェース。
type CandidateServiceInterface interface {
	// Propose は開催中のイテレーションに書籍候補を提案する。
	Propose(ctx context.Context, proposerID string, input candidate.ProposeInput) (*candidate.Info, error)
	// Remove は候補を削除する。提案者本人または管理者のみ。
	Remove(ctx context.Context, requesterID string, isAdmin bool, candidateID string) error
	// ListByIteration はイテレーションの候補一覧を提案順に返す。
	ListByIteration(ctx context.Context, iterationID string) ([]candidate.Info, error)
}

// CandidateHandler は書籍候補のHTTPハンドラー。
type CandidateHandler struct {
	service CandidateServiceInterface
}

// NewCandidateHandler はCandidateHandlerを生成する。
func NewCandidateHandler(service CandidateServiceInterface) *CandidateHandler {
	return &CandidateHandler{service: service}
}

// proposeRequest は候補提案リクエストのボディ。
type proposeRequest struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	ISBN13   string   `json:"isbn13"`
	CoverURL string   `json:"cover_url"`
	Reason   string   `json:"reason"`
}

// bookResponse は書籍情報のAPIレスポンス。
type bookResponse struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	ISBN13   string   `json:"isbn13,omitempty"`
	CoverURL string   `json:"cover_url,omitempty"`
}

// candidateResponse は候補情報のAPIレスポンス。
// Votesは投票が公開されているか終了済みの場合のみ含まれる。
type candidateResponse struct {
	ID           string       `json:"id"`
	IterationID  string       `json:"iteration_id"`
	Book         bookResponse `json:"book"`
	ProposerID   string       `json:"proposer_id"`
	ProposerName string       `json:"proposer_name"`
	Reason       string       `json:"reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Votes        *int         `json:"votes,omitempty"`
}

// Propose は書籍候補の提案を処理する。
// POST /api/candidates
func (h *CandidateHandler) Propose(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	info, err := h.service.Propose(r.Context(), user.ID, candidate.ProposeInput{
		Title:    req.Title,
		Authors:  req.Authors,
		ISBN13:   req.ISBN13,
		CoverURL: req.CoverURL,
		Reason:   req.Reason,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toCandidateResponse(*info))
}

// Remove は候補を削除する。
// DELETE /api/candidates/:id
func (h *CandidateHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	candidateID := chi.URLParam(r, "id")
	if err := h.service.Remove(r.Context(), user.ID, user.IsAdmin(), candidateID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListByIteration はイテレーションの候補一覧を返す。
// GET /api/iterations/:id/candidates
func (h *CandidateHandler) ListByIteration(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.ListByIteration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]candidateResponse, len(infos))
	for i, info := range infos {
		results[i] = toCandidateResponse(info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// toCandidateResponse はcandidate.InfoからAPIレスポンスに変換する。
func toCandidateResponse(info candidate.Info) candidateResponse {
	authors := info.Book.Authors
	if authors == nil {
		authors = []string{}
	}
	return candidateResponse{
		ID:          info.ID,
		IterationID: info.IterationID,
		Book: bookResponse{
			Title:    info.Book.Title,
			Authors:  authors,
			ISBN13:   info.Book.ISBN13,
			CoverURL: info.Book.CoverURL,
		},
		ProposerID:   info.ProposerID,
		ProposerName: info.ProposerName,
		Reason:       info.Reason,
		CreatedAt:    info.CreatedAt,
		Votes:        info.Votes,
	}
}
