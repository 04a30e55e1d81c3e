package backend

import (
	"errors"
	"fmt"
)

// Kind はリモートバックエンドのエラー種別。
// アダプタが機械可読なフィールドから判定し、アプリケーションはメッセージ文字列を参照しない。
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindEmailNotConfirmed
	KindInvalidCredentials
	KindEmailAlreadyRegistered
	KindWeakPassword
	KindRateLimited
	KindInvalidToken
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNetwork:                "network",
	KindEmailNotConfirmed:      "email_not_confirmed",
	KindInvalidCredentials:     "invalid_credentials",
	KindEmailAlreadyRegistered: "email_already_registered",
	KindWeakPassword:           "weak_password",
	KindRateLimited:            "rate_limited",
	KindInvalidToken:           "invalid_token",
	KindNotFound:               "not_found",
}

// String はメトリクスやログに使う種別名を返す。
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error はリモートバックエンド呼び出しの型付きエラー。
type Error struct {
	Kind   Kind
	Op     string // 操作名（例: "auth.sign_in"）
	Status int    // HTTPステータス。通信失敗時は0
	Code   string // バックエンドが返したerror_code
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msg := fmt.Sprintf("backend %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d", e.Status)
		if e.Code != "" {
			msg += ", code " + e.Code
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf はエラーチェーンからKindを取り出す。Errorを含まない場合はKindUnknown。
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsKind はエラーが指定の種別かどうかを判定する。
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
