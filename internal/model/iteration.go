// Package model はドメインモデルを定義する。
package model

import "time"

// IterationStatus はイテレーション（投票ラウンド）の状態を表す。
type IterationStatus string

const (
	// IterationPlanned は作成済みでまだ投票を受け付けていない状態。
	IterationPlanned IterationStatus = "planned"
	// IterationOpen は候補提案と投票を受け付けている状態。
	// システム全体で同時にopenになれるイテレーションは1件のみ。
	IterationOpen IterationStatus = "open"
	// IterationClosed は投票終了後の終端状態。再オープンはできない。
	IterationClosed IterationStatus = "closed"
)

// Iteration はブッククラブの1回の投票ラウンドを表す。
// 状態遷移は planned → open → closed の一方向のみ。
type Iteration struct {
	ID          string
	Name        string
	PublicVotes bool
	Status      IterationStatus
	OpenedAt    *time.Time
	ClosedAt    *time.Time
	DeadlineAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
