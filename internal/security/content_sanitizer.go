// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はプロジェクト名・タスク名・氏名などのユーザー入力から
// マークアップを除去し、プレーンテキストとして安全に保存・表示できる形に正規化する。
// bluemondayのStrictPolicyを使用し、すべてのタグを除去する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer は名前入力のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize は入力からタグと制御文字を除去し、前後の空白を取り除き、
	// 連続する空白を1つにまとめたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はプレーンテキスト化した名前を返す。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// 1. タグ除去。StrictPolicyは出力をHTMLエスケープするため元の文字に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	// 2. 制御文字を空白に置き換える
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)

	// 3. 空白の正規化
	return strings.Join(strings.Fields(text), " ")
}
