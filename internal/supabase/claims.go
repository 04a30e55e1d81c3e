package supabase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Djangliori/task-new-app/internal/backend"
)

// AccessClaims はGoTrueが発行するアクセストークンのクレーム。
type AccessClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// ParseAccessToken はアクセストークンのクレームを読み取る。
// JWTシークレットが設定されている場合は署名（HS256）と有効期限を検証する。
// 未設定の場合は署名を検証せずに読み取るだけで、真正性の確認はGetUserに委ねる。
func (c *Client) ParseAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	if len(c.jwtSecret) == 0 {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: "auth.parse_token", Err: err}
		}
		return claims, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, &backend.Error{Kind: backend.KindInvalidToken, Op: "auth.parse_token", Code: "token_expired", Err: err}
		}
		return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: "auth.parse_token", Err: fmt.Errorf("invalid token: %w", err)}
	}
	return claims, nil
}

// Expiry はクレームの有効期限を返す。expが無い場合はゼロ値。
func (c *AccessClaims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// expired はトークンが期限切れ（またはskew以内に期限切れ）かどうかを判定する。
func (c *Client) expired(claims *AccessClaims, skew time.Duration) bool {
	exp := claims.Expiry()
	if exp.IsZero() {
		return false
	}
	return !c.now().Add(skew).Before(exp)
}
