package authflow

import "sync"

// Flow は認証フローの種類。
type Flow string

const (
	FlowLogin          Flow = "login"
	FlowRegister       Flow = "register"
	FlowForgotPassword Flow = "forgot_password"
	FlowResetPassword  Flow = "reset_password"
	FlowConfirmEmail   Flow = "confirm_email"
)

// Guard はフローとクライアントの組ごとに送信中の処理を記録し、重複送信を抑止する。
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard はGuardを生成する。
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

// Begin は送信の開始を記録する。
// 同じフローとクライアントの送信が処理中の場合はokにfalseを返す。
// okがtrueの場合、呼び出し元は処理完了後にreleaseを呼び出す必要がある。
// clientKeyが空の場合は識別できないため抑止しない。
func (g *Guard) Begin(flow Flow, clientKey string) (release func(), ok bool) {
	if clientKey == "" {
		return func() {}, true
	}

	key := string(flow) + "\x00" + clientKey

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[key]; busy {
		return nil, false
	}
	g.inFlight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, true
}

// InFlight は処理中の送信数を返す。
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
