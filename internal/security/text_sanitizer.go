// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はユーザー入力の自由記述テキスト（提案理由など）を
// サニタイズし、XSS攻撃などのセキュリティリスクからユーザーを保護する。
// bluemondayのStrictPolicyを使用し、HTMLタグを一切通過させない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストサニタイズ機能のインターフェースを定義する。
// 提案理由の保存前と告知メッセージの組み立て時に使用される。
type TextSanitizerService interface {
	// Sanitize は入力テキストからHTMLタグを全て除去して返す。
	// 前後の空白もトリムする。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// 提案理由は平文として扱うため、許可タグのないStrictPolicyを使用する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力テキストからHTMLタグを全て除去して返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
