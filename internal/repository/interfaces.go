// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookvote/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertByTelegramID はTelegramユーザーIDをキーにユーザーをUPSERTする。
	// 初回は空ロールで作成し、2回目以降は表示系フィールドのみ更新する。
	// ロールは管理者が帯域外で付与するため、ここでは決して変更しない。
	UpsertByTelegramID(ctx context.Context, telegramUserID int64, displayName, username string) (*model.User, error)
}

// IterationRepository はイテレーションデータの永続化インターフェース。
// openなイテレーションが最大1件であることは部分ユニークインデックスで保証され、
// 状態遷移は現在状態を条件に含むガード付きUPDATEで行う。
type IterationRepository interface {
	// Create はplanned状態のイテレーションを作成する。
	Create(ctx context.Context, iteration *model.Iteration) error

	// FindByID は指定IDのイテレーションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Iteration, error)

	// FindOpen は現在openなイテレーションを取得する。存在しない場合はnilを返す。
	// 書き込み時の不変条件チェックは常にこのクエリでストアを再読みする。
	FindOpen(ctx context.Context) (*model.Iteration, error)

	// MarkOpen はplanned状態のイテレーションをopenに遷移させる。
	// opened_atを記録し、closed_atをクリアする。
	// 対象がplannedでない場合は何も更新せずfalseを返す。
	// 既に別のopenイテレーションが存在する場合はユニーク制約違反のエラーを返す。
	MarkOpen(ctx context.Context, id string, openedAt time.Time) (bool, error)

	// MarkClosed はopen状態のイテレーションをclosedに遷移させる。
	// 対象がopenでない場合は何も更新せずfalseを返す。
	// ガード付きUPDATEのため、並行するスイープと手動クローズが競合しても
	// 遷移が成立するのは一方のみ。
	MarkClosed(ctx context.Context, id string, closedAt time.Time) (bool, error)

	// UpdateDeadline はclosedでないイテレーションのdeadline_atを更新する。
	// 対象がclosedの場合は何も更新せずfalseを返す。
	UpdateDeadline(ctx context.Context, id string, deadlineAt *time.Time) (bool, error)

	// ListDue は締切を過ぎたopenイテレーションを取得する。
	// deadline_at <= now かつ status = 'open' のもの。
	ListDue(ctx context.Context, now time.Time) ([]*model.Iteration, error)

	// List は全イテレーションを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.Iteration, error)
}

// BookRepository は書籍データの永続化インターフェース。
type BookRepository interface {
	// GetOrCreate はdedup_keyをキーに書籍を取得または作成する。
	// 既存の書籍がある場合はその行を返し、書誌情報は上書きしない。
	GetOrCreate(ctx context.Context, book *model.Book) (*model.Book, error)
}

// CandidateRepository は候補データの永続化インターフェース。
type CandidateRepository interface {
	// Create は候補を作成する。
	// (iteration_id, book_id) のユニーク制約違反はそのまま返す。
	// 呼び出し元はIsUniqueViolationで判定する。
	Create(ctx context.Context, candidate *model.Candidate) error

	// FindByID は指定IDの候補を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Candidate, error)

	// Delete は指定IDの候補を削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ListByIteration はイテレーションの候補一覧を書籍・提案者情報付きで返す。
	// created_at昇順（同時刻はID昇順）。この順序が同票時の勝者決定順になる。
	ListByIteration(ctx context.Context, iterationID string) ([]CandidateWithBook, error)
}

// VoteRepository は投票データの永続化インターフェース。
type VoteRepository interface {
	// Upsert は (iteration_id, voter_id) をキーに投票をUPSERTする。
	// 既存行がある場合はcandidate_idを差し替える。
	// ユニーク制約が直列化点であり、同一ユーザーの並行投票でも行は1つに収束する。
	Upsert(ctx context.Context, vote *model.Vote) (*model.Vote, error)

	// FindByVoterAndIteration はユーザーのイテレーション内の投票を取得する。
	// 見つからない場合はnilを返す。
	FindByVoterAndIteration(ctx context.Context, voterID, iterationID string) (*model.Vote, error)

	// CountByCandidate はイテレーション内の候補ごとの得票数を返す。
	// 得票のない候補はマップに含まれない（ゼロ埋めは呼び出し元が行う）。
	CountByCandidate(ctx context.Context, iterationID string) (map[string]int, error)
}

// CandidateWithBook は候補と書籍・提案者情報を結合した構造体。
type CandidateWithBook struct {
	model.Candidate
	Book         model.Book
	ProposerName string
}
