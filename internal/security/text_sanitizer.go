// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は生徒名・行き先など利用者が入力した自由記述テキストから
// マークアップを除去する。ラベル印刷や管理画面でそのまま表示されるため、
// 保存前にタグを一切含まないプレーンテキストへ正規化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いた文字列を返す。
	// エンティティはデコードして返す（"O&#39;Brien" → "O'Brien"）。
	// 実体参照で書かれたタグ（"&lt;b&gt;"）もデコード後のタグとして除去する。
	// 結果に再度Sanitizeを適用しても変化しない。
	Sanitize(raw string) string
}

// maxSanitizeRounds はデコードと除去を繰り返す上限。
// 超えても収束しない多重エンコードの入力は空文字列として扱う。
const maxSanitizeRounds = 8

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに利用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを用いたTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// デコードしてからタグを除去する処理を、結果が変わらなくなるまで繰り返す。
func (s *textSanitizer) Sanitize(raw string) string {
	cur := raw
	for i := 0; i < maxSanitizeRounds; i++ {
		next := s.round(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
	return ""
}

func (s *textSanitizer) round(in string) string {
	if in == "" {
		return ""
	}
	stripped := s.policy.Sanitize(html.UnescapeString(in))
	return strings.TrimSpace(html.UnescapeString(stripped))
}
