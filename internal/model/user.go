// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// RoleAdmin はイテレーション管理操作を許可するロール。
// ロールは管理者がDB上で付与する運用であり、ログインでは変更されない。
const RoleAdmin = "admin"

// User はブッククラブの参加ユーザーを表す。
// Telegram Mini Appの起動ペイロード検証に成功した時点で作成され、
// 以降の起動では表示系フィールド（DisplayName, Username）のみ更新される。
type User struct {
	ID             string
	TelegramUserID int64
	DisplayName    string
	Username       string
	Roles          []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsAdmin はユーザーがadminロールを持つかを返す。
func (u *User) IsAdmin() bool {
	return slices.Contains(u.Roles, RoleAdmin)
}
