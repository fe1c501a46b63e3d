// Package model はドメインモデルを定義する。
package model

import "time"

// Vote はイテレーション内の1ユーザーの投票を表す。
// (iteration_id, voter_id) で一意であり、投票先の変更は同一行のUPSERTで行う。
// 提案者が自分の候補へ投票することは禁止されている。
type Vote struct {
	ID          string
	IterationID string
	VoterID     string
	CandidateID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
