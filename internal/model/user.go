// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーのプロフィールを表す。
// usersテーブルの1行に対応し、IDは認証サービス側のユーザーIDと一致する。
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// FullName は表示用の氏名を返す。
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Session はユーザーのログインセッションを表す。
// 認証サービスが発行したトークンペアをサーバー側で保持し、
// ブラウザにはセッションIDのみをCookieで渡す。
type Session struct {
	ID             string
	UserID         string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time // アクセストークンの有効期限
	RememberMe     bool      // trueの場合は永続Cookieを発行する
	ExpiresAt      time.Time // セッション自体の有効期限
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenExpiresWithin はアクセストークンが指定時間内に期限切れになるかを判定する。
func (s *Session) TokenExpiresWithin(now time.Time, d time.Duration) bool {
	if s.TokenExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.TokenExpiresAt)
}
