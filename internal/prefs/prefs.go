// Package prefs はUI設定（表示言語・ログイン保持・ナビゲーション状態）の
// Cookie永続化とバージョン移行を提供する。
package prefs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Djangliori/task-new-app/internal/i18n"
)

const (
	// CookieName は設定を保持するCookieの名前。
	// ページのスクリプトから読み取れるよう、HttpOnlyではない。
	CookieName = "prefs"

	// CurrentVersion は現在の設定フォーマットのバージョン。
	CurrentVersion = 1

	// cookieMaxAge は設定Cookieの有効期間（1年）。
	cookieMaxAge = 365 * 24 * 60 * 60

	// DefaultNav は既定のナビゲーション項目。
	DefaultNav = "homeNav"

	projectNavPrefix = "project-"
)

// バージョン0で個別に保存されていたCookie名。
const (
	legacyLanguageCookie     = "language"
	legacyRememberMeCookie   = "rememberMe"
	legacyNavCookie          = "task-manager-nav"
	legacyProjectsOpenCookie = "task-manager-projects-open"
)

// ErrInvalidPreference は不正な設定値を示す。
var ErrInvalidPreference = errors.New("invalid preference value")

var navItems = map[string]bool{
	"homeNav":      true,
	"addTaskNav":   true,
	"searchNav":    true,
	"todayNav":     true,
	"upcomingNav":  true,
	"completedNav": true,
}

// Preferences はUI設定。
type Preferences struct {
	Version      int       `json:"v"`
	Language     i18n.Lang `json:"language"`
	RememberMe   bool      `json:"remember_me"`
	ActiveNav    string    `json:"active_nav"`
	ProjectsOpen bool      `json:"projects_open"`
}

// Patch はPUT /api/preferences の部分更新。nilのフィールドは変更しない。
type Patch struct {
	Language     *string `json:"language"`
	RememberMe   *bool   `json:"remember_me"`
	ActiveNav    *string `json:"active_nav"`
	ProjectsOpen *bool   `json:"projects_open"`
}

// CookieOptions はCookie書き込み時の属性。
type CookieOptions struct {
	Domain string
	Secure bool
}

// Default は既定の設定を返す。
func Default(lang i18n.Lang) Preferences {
	return Preferences{
		Version:   CurrentVersion,
		Language:  lang,
		ActiveNav: DefaultNav,
	}
}

// ValidNav はナビゲーション項目として有効な値かどうかを判定する。
// 固定項目のほか "project-<UUID>" 形式を受け付ける。
func ValidNav(nav string) bool {
	if navItems[nav] {
		return true
	}
	if id, ok := strings.CutPrefix(nav, projectNavPrefix); ok {
		_, err := uuid.Parse(id)
		return err == nil
	}
	return false
}

// Migrate は任意のバージョンの設定を現在のバージョンに変換する。
// 不正な値は既定値に置き換える。
func Migrate(p Preferences, fallback i18n.Lang) Preferences {
	out := Default(fallback)

	if lang, ok := i18n.Parse(string(p.Language)); ok {
		out.Language = lang
	}
	if ValidNav(p.ActiveNav) {
		out.ActiveNav = p.ActiveNav
	}
	out.RememberMe = p.RememberMe
	out.ProjectsOpen = p.ProjectsOpen

	return out
}

// Encode は設定をCookie値（base64url JSON）に変換する。
func Encode(p Preferences) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal preferences: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode はCookie値から設定を復元する。移行は行わない。
func Decode(value string) (Preferences, error) {
	var p Preferences

	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return p, fmt.Errorf("failed to decode preferences: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return p, nil
}

// Read はリクエストのCookieから設定を読み取る。
// prefs Cookieがない、または壊れている場合はバージョン0の個別Cookieから移行する。
// 言語が決まらない場合はAccept-Language、最後にfallbackを使用する。
func Read(r *http.Request, fallback i18n.Lang) Preferences {
	lang := i18n.Negotiate(r.Header.Get("Accept-Language"), fallback)

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if p, err := Decode(cookie.Value); err == nil {
			return Migrate(p, lang)
		}
	}

	return Migrate(readLegacy(r), lang)
}

// readLegacy はバージョン0の個別Cookieを読み取る。
func readLegacy(r *http.Request) Preferences {
	p := Preferences{Version: 0}

	if c, err := r.Cookie(legacyLanguageCookie); err == nil {
		p.Language = i18n.Lang(c.Value)
	}
	if c, err := r.Cookie(legacyRememberMeCookie); err == nil {
		p.RememberMe, _ = strconv.ParseBool(c.Value)
	}
	if c, err := r.Cookie(legacyNavCookie); err == nil {
		p.ActiveNav = c.Value
	}
	if c, err := r.Cookie(legacyProjectsOpenCookie); err == nil {
		p.ProjectsOpen, _ = strconv.ParseBool(c.Value)
	}

	return p
}

// Apply は部分更新を適用する。不正な値はErrInvalidPreferenceを返す。
func Apply(p Preferences, patch Patch) (Preferences, error) {
	if patch.Language != nil {
		lang, ok := i18n.Parse(*patch.Language)
		if !ok {
			return p, fmt.Errorf("language %q: %w", *patch.Language, ErrInvalidPreference)
		}
		p.Language = lang
	}
	if patch.ActiveNav != nil {
		if !ValidNav(*patch.ActiveNav) {
			return p, fmt.Errorf("active_nav %q: %w", *patch.ActiveNav, ErrInvalidPreference)
		}
		p.ActiveNav = *patch.ActiveNav
	}
	if patch.RememberMe != nil {
		p.RememberMe = *patch.RememberMe
	}
	if patch.ProjectsOpen != nil {
		p.ProjectsOpen = *patch.ProjectsOpen
	}
	p.Version = CurrentVersion
	return p, nil
}

// Write は設定Cookieを書き込み、移行済みの個別Cookieを削除する。
func Write(w http.ResponseWriter, p Preferences, opts CookieOptions) error {
	value, err := Encode(p)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   cookieMaxAge,
		HttpOnly: false,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	for _, name := range []string{legacyLanguageCookie, legacyRememberMeCookie, legacyNavCookie, legacyProjectsOpenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:   name,
			Value:  "",
			Path:   "/",
			Domain: opts.Domain,
			MaxAge: -1,
		})
	}
	return nil
}
