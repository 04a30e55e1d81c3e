package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/prefs"
)

// PrefsHandler はUI設定Cookieの読み書きを行うハンドラー。
// 未ログインでも利用できる。
type PrefsHandler struct {
	defaultLanguage i18n.Lang
	cookie          prefs.CookieOptions
}

// NewPrefsHandler はPrefsHandlerを生成する。
func NewPrefsHandler(defaultLanguage i18n.Lang, cookie middleware.CookieOptions) *PrefsHandler {
	return &PrefsHandler{
		defaultLanguage: defaultLanguage,
		cookie:          prefs.CookieOptions{Domain: cookie.Domain, Secure: cookie.Secure},
	}
}

// Get は現在の設定を返す。旧形式のCookieは新形式に書き換える。
// GET /api/preferences
func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := prefs.Read(r, h.defaultLanguage)
	if err := prefs.Write(w, p, h.cookie); err != nil {
		slog.Warn("failed to write preferences", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, p)
}

// Update は設定を部分更新する。
// PUT /api/preferences
func (h *PrefsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch prefs.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}

	p, err := prefs.Apply(prefs.Read(r, h.defaultLanguage), patch)
	if err != nil {
		if errors.Is(err, prefs.ErrInvalidPreference) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPreferenceError(err.Error()))
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	if err := prefs.Write(w, p, h.cookie); err != nil {
		slog.Error("failed to write preferences", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
