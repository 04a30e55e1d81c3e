// Package supabase はSupabase互換のホスト型バックエンド（GoTrue認証API + PostgRESTテーブルAPI）の
// HTTPアダプタを提供する。エラーはすべてbackend.Errorに変換して返す。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
)

const (
	authPath = "/auth/v1"
	restPath = "/rest/v1"

	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20

	userAgent = "TaskManager/1.0"
)

// Observer はリモート呼び出しの結果とレイテンシを記録する。
type Observer interface {
	ObserveBackendRequest(op, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveBackendRequest(string, string, time.Duration) {}

// Config はクライアントの設定。
type Config struct {
	BaseURL    string // 例: https://xyz.supabase.co
	APIKey     string // anonキーまたはservice_roleキー
	JWTSecret  string // 設定時はアクセストークンをHS256で検証する
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
}

// Client はSupabaseのHTTPクライアント。
// backend.Authとbackend.Dataを実装する。
type Client struct {
	baseURL    string
	apiKey     string
	jwtSecret  []byte
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observer Observer = nopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		observer:   observer,
		now:        time.Now,
	}
	if cfg.JWTSecret != "" {
		c.jwtSecret = []byte(cfg.JWTSecret)
	}
	return c
}

// request は1回のリモート呼び出しを表す。
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	token  string // 空の場合はAPIキーをBearerに使う
	body   any
	prefer string
	// credential はパスワードによる認証系の呼び出しであることを示す（invalid_grantの解釈に使う）
	credential bool
}

// do はリクエストを実行し、2xxの場合はoutにJSONをデコードする。
func (c *Client) do(ctx context.Context, req request, out any) error {
	start := c.now()
	err := c.roundTrip(ctx, req, out)

	outcome := "ok"
	if err != nil {
		outcome = backend.KindOf(err).String()
	}
	c.observer.ObserveBackendRequest(req.op, outcome, c.now().Sub(start))
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	// 1. URL構築
	u, err := url.Parse(c.baseURL + req.path)
	if err != nil {
		return &backend.Error{Kind: backend.KindUnknown, Op: req.op, Err: fmt.Errorf("invalid backend url: %w", err)}
	}
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	// 2. ボディのエンコード
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return &backend.Error{Kind: backend.KindUnknown, Op: req.op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return &backend.Error{Kind: backend.KindUnknown, Op: req.op, Err: err}
	}

	// 3. ヘッダー設定
	token := req.token
	if token == "" {
		token = c.apiKey
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	// 4. 実行
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("リモートバックエンドへの接続に失敗しました",
			slog.String("op", req.op),
			slog.String("error", err.Error()),
		)
		return &backend.Error{Kind: backend.KindNetwork, Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &backend.Error{Kind: backend.KindNetwork, Op: req.op, Status: resp.StatusCode, Err: err}
	}

	// 5. エラーレスポンスの分類
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(req, resp.StatusCode, raw)
		c.logger.Warn("リモートバックエンドがエラーを返しました",
			slog.String("op", req.op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error_code", apiErr.Code),
			slog.String("kind", apiErr.Kind.String()),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &backend.Error{Kind: backend.KindUnknown, Op: req.op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorBody はGoTrueとPostgRESTのエラーレスポンスを兼ねる。
// GoTrueはcodeに数値のHTTPステータス、PostgRESTは文字列のエラーコードを入れる。
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
}

func decodeError(req request, status int, raw []byte) *backend.Error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	code := body.ErrorCode
	if code == "" && len(body.Code) > 0 && body.Code[0] == '"' {
		_ = json.Unmarshal(body.Code, &code)
	}

	detail := firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error)
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}

	return &backend.Error{
		Kind:   classify(req.credential, status, code, body.Error),
		Op:     req.op,
		Status: status,
		Code:   firstNonEmpty(code, body.Error),
		Err:    cause,
	}
}

// classify は機械可読なフィールドのみからエラー種別を判定する。
func classify(credential bool, status int, code, errField string) backend.Kind {
	switch code {
	case "email_not_confirmed":
		return backend.KindEmailNotConfirmed
	case "invalid_credentials":
		return backend.KindInvalidCredentials
	case "user_already_exists", "email_exists":
		return backend.KindEmailAlreadyRegistered
	case "weak_password":
		return backend.KindWeakPassword
	case "over_request_rate_limit", "over_email_send_rate_limit", "over_sms_send_rate_limit":
		return backend.KindRateLimited
	case "bad_jwt", "no_authorization", "session_not_found", "session_expired",
		"refresh_token_not_found", "refresh_token_already_used", "otp_expired", "flow_state_expired",
		"PGRST301", "PGRST302":
		return backend.KindInvalidToken
	case "user_not_found", "PGRST116":
		return backend.KindNotFound
	}

	if errField == "invalid_grant" {
		if credential {
			return backend.KindInvalidCredentials
		}
		return backend.KindInvalidToken
	}

	switch status {
	case http.StatusTooManyRequests:
		return backend.KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return backend.KindInvalidToken
	case http.StatusNotFound:
		return backend.KindNotFound
	}
	return backend.KindUnknown
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
