// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Book は提案対象の書籍を表す。
// 同一性はDedupKeyで判定する（ISBN-13優先、なければタイトル+著者）。
type Book struct {
	ID        string
	Title     string
	Authors   []string
	ISBN13    string
	CoverURL  string
	DedupKey  string
	CreatedAt time.Time
}

// Candidate はイテレーションに紐付く書籍提案を表す。
// (iteration_id, book_id) で一意。作成後は変更不可、
// 削除は提案者本人か管理者のみ、投票終了前に限る。
type Candidate struct {
	ID          string
	IterationID string
	BookID      string
	ProposerID  string
	Reason      string
	CreatedAt   time.Time
}

// BookDedupKey は書籍の重複判定キーを計算する。
// 正規化済みISBN-13があればそれを優先し、
// なければ小文字化した "title::author1,author2" 形式にフォールバックする。
func BookDedupKey(title string, authors []string, isbn13 string) string {
	if normalized := NormalizeISBN13(isbn13); normalized != "" {
		return "isbn:" + normalized
	}
	joined := strings.ToLower(strings.Join(authors, ","))
	return strings.ToLower(strings.TrimSpace(title)) + "::" + joined
}

// NormalizeISBN13 はISBN-13をハイフン・空白除去のうえ検証して返す。
// 13桁の数字（978/979始まり）でない場合は空文字列を返す。
func NormalizeISBN13(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if len(s) != 13 {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if !strings.HasPrefix(s, "978") && !strings.HasPrefix(s, "979") {
		return ""
	}
	return s
}
