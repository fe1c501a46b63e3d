// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, voting, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeIterationNotActive = "ITERATION_NOT_ACTIVE"
	ErrCodeSelfVoteForbidden  = "SELF_VOTE_FORBIDDEN"
	ErrCodeDuplicateCandidate = "DUPLICATE_CANDIDATE"
	ErrCodeNoOpenIteration    = "NO_OPEN_ITERATION"
	ErrCodeIterationNotFound  = "ITERATION_NOT_FOUND"
	ErrCodeCandidateNotFound  = "CANDIDATE_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// NewUnauthorizedError は認証エラーを生成する。
// 署名不一致・期限切れ・ペイロード不正のいずれでも同一のエラーを返し、
// どの検証で失敗したかを外部に漏らさない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "Telegramからアプリを開き直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewInvalidTransitionError はイテレーション状態遷移の誤用エラーを生成する。
func NewInvalidTransitionError(from IterationStatus, op string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("現在の状態（%s）では %s を実行できません。", from, op),
		Category: "voting",
		Action:   "イテレーションの状態を確認してください。",
	}
}

// NewIterationNotActiveError は投票受付中でないイテレーションへの操作エラーを生成する。
func NewIterationNotActiveError() *APIError {
	return &APIError{
		Code:     ErrCodeIterationNotActive,
		Message:  "このイテレーションは投票を受け付けていません。",
		Category: "voting",
		Action:   "現在開催中のイテレーションを確認してください。",
	}
}

// NewSelfVoteForbiddenError は自己投票エラーを生成する。
func NewSelfVoteForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfVoteForbidden,
		Message:  "自分が提案した候補には投票できません。",
		Category: "voting",
		Action:   "他のメンバーが提案した候補に投票してください。",
	}
}

// NewDuplicateCandidateError は候補の重複提案エラーを生成する。
func NewDuplicateCandidateError(title string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateCandidate,
		Message:  fmt.Sprintf("この書籍はすでに提案されています: %s", title),
		Category: "voting",
		Action:   "候補一覧から既存の提案を確認してください。",
	}
}

// NewNoOpenIterationError は開催中イテレーション不在エラーを生成する。
func NewNoOpenIterationError() *APIError {
	return &APIError{
		Code:     ErrCodeNoOpenIteration,
		Message:  "現在開催中のイテレーションがありません。",
		Category: "voting",
		Action:   "次のイテレーションが開始されるまでお待ちください。",
	}
}

// NewIterationNotFoundError はイテレーション未検出エラーを生成する。
func NewIterationNotFoundError(iterationID string) *APIError {
	return &APIError{
		Code:     ErrCodeIterationNotFound,
		Message:  fmt.Sprintf("指定されたイテレーションが見つかりません: %s", iterationID),
		Category: "voting",
		Action:   "イテレーションIDを確認してください。",
	}
}

// NewCandidateNotFoundError は候補未検出エラーを生成する。
func NewCandidateNotFoundError(candidateID string) *APIError {
	return &APIError{
		Code:     ErrCodeCandidateNotFound,
		Message:  fmt.Sprintf("指定された候補が見つかりません: %s", candidateID),
		Category: "voting",
		Action:   "候補IDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
