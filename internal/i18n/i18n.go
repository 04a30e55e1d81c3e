// Package i18n はジョージア語と英語のメッセージカタログを提供する。
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// Lang はUIの表示言語を表す。
type Lang string

const (
	// Georgian はジョージア語。既定の表示言語。
	Georgian Lang = "ka"
	// English は英語。
	English Lang = "en"
)

// supported はマッチャーに渡すタグ。インデックスはlangsと対応する。
var (
	supported = []language.Tag{language.Georgian, language.English}
	langs     = []Lang{Georgian, English}
	matcher   = language.NewMatcher(supported)
)

// Parse は文字列を表示言語に変換する。未対応の値はfalseを返す。
func Parse(s string) (Lang, bool) {
	switch Lang(strings.ToLower(strings.TrimSpace(s))) {
	case Georgian:
		return Georgian, true
	case English:
		return English, true
	default:
		return "", false
	}
}

// Negotiate はAccept-Languageヘッダーから表示言語を決定する。
// ヘッダーが空・不正、または対応言語と一致しない場合はfallbackを返す。
func Negotiate(acceptLanguage string, fallback Lang) Lang {
	if strings.TrimSpace(acceptLanguage) == "" {
		return fallback
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}

	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return fallback
	}
	return langs[index]
}

// Message はキーに対応するメッセージを返す。
// 言語が未対応の場合はジョージア語、キーが未登録の場合はキー自体を返す。
func Message(lang Lang, key Key) string {
	table, ok := catalog[lang]
	if !ok {
		table = catalog[Georgian]
	}
	if msg, ok := table[key]; ok {
		return msg
	}
	return string(key)
}
