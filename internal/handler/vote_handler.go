package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/bookvote/internal/middleware"
	"github.com/hitoshi/bookvote/internal/model"
)

// VoteServiceInterface は投票ハンドラーが必要とするサービスインターフェース。
type VoteServiceInterface interface {
	// Cast は候補に投票する。既存の投票があれば投票先を差し替える。
	Cast(ctx context.Context, voterID, candidateID string) (*model.Vote, error)
	// Current は開催中イテレーションにおける投票者自身の投票を返す。未投票ならnil。
	Current(ctx context.Context, voterID string) (*model.Vote, error)
}

// VoteHandler は投票のHTTPハンドラー。
type VoteHandler struct {
	service VoteServiceInterface
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(service VoteServiceInterface) *VoteHandler {
	return &VoteHandler{service: service}
}

// castVoteRequest は投票リクエストのボディ。
type castVoteRequest struct {
	CandidateID string `json:"candidate_id"`
}

// voteResponse は投票情報のAPIレスポンス。
type voteResponse struct {
	IterationID string    `json:"iteration_id"`
	CandidateID string    `json:"candidate_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cast は投票を処理する。再投票は同一イテレーション内の投票先差し替えになる。
// PUT /api/votes
func (h *VoteHandler) Cast(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.CandidateID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("candidate_idが空です"))
		return
	}

	vote, err := h.service.Cast(r.Context(), user.ID, req.CandidateID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toVoteResponse(vote))
}

// Me は開催中イテレーションにおける自分の投票を返す。
// GET /api/votes/me
func (h *VoteHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	vote, err := h.service.Current(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if vote == nil {
		// 未投票はnullを返す
		w.Write([]byte("null\n"))
		return
	}
	json.NewEncoder(w).Encode(toVoteResponse(vote))
}

// toVoteResponse はmodel.VoteからAPIレスポンスに変換する。
func toVoteResponse(vote *model.Vote) voteResponse {
	return voteResponse{
		IterationID: vote.IterationID,
		CandidateID: vote.CandidateID,
		UpdatedAt:   vote.UpdatedAt,
	}
}
