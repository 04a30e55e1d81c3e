package authflow

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/session"
)

var (
	// ErrLinkMissing はリンクに資格情報が含まれていないことを示す。
	ErrLinkMissing = errors.New("link credentials missing")

	// ErrLinkExpired はリンクがエラー（期限切れ等）を伝えている、または形式が不正であることを示す。
	ErrLinkExpired = errors.New("link expired or invalid")
)

// ParseLink はメールのリンクURLから資格情報を取り出す。
// フラグメントを先に確認し、見つからなければクエリ文字列を確認する。
// トークンペア（access_token, refresh_token）とtoken_hash+typeの両形式を受け付ける。
func ParseLink(raw string) (session.LinkCredentials, error) {
	var creds session.LinkCredentials
	if raw == "" {
		return creds, ErrLinkMissing
	}

	u, err := url.Parse(raw)
	if err != nil {
		return creds, ErrLinkMissing
	}

	fragment, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		fragment = url.Values{}
	}

	for _, values := range []url.Values{fragment, u.Query()} {
		if code := linkErrorCode(values); code != "" {
			return creds, fmt.Errorf("%w: %s", ErrLinkExpired, code)
		}

		access, refresh := values.Get("access_token"), values.Get("refresh_token")
		if access != "" && refresh != "" {
			creds.AccessToken = access
			creds.RefreshToken = refresh
			return creds, nil
		}

		if hash := values.Get("token_hash"); hash != "" {
			otpType := backend.OTPType(values.Get("type"))
			if otpType != "" && !otpType.Valid() {
				return creds, fmt.Errorf("%w: unknown type %q", ErrLinkExpired, otpType)
			}
			creds.TokenHash = hash
			creds.Type = otpType
			return creds, nil
		}
	}

	return creds, ErrLinkMissing
}

func linkErrorCode(values url.Values) string {
	if code := values.Get("error_code"); code != "" {
		return code
	}
	return values.Get("error")
}
