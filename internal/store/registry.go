package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/security"
)

// DefaultLoadTimeout は初回読み込みのタイムアウト。
// 読み込みは同時に待機している全リクエストで共有するため、呼び出し元のキャンセルとは切り離す。
const DefaultLoadTimeout = 15 * time.Second

// pendingLoad は読み込み中のセッション。読み込み中にDropされた場合はdroppedが立つ。
type pendingLoad struct {
	userID  string
	dropped bool
}

// Registry はセッションIDごとのStoreを保持する。
// Storeは初回利用時にLoadAllで読み込まれ、読み込みに失敗した場合は保持しない。
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*Store
	pending map[string]*pendingLoad
	loads   singleflight.Group

	loadTimeout time.Duration

	data      backend.Data
	sanitizer security.NameSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(data backend.Data, sanitizer security.NameSanitizer, collector metrics.MetricsCollector) *Registry {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Registry{
		stores:      make(map[string]*Store),
		pending:     make(map[string]*pendingLoad),
		loadTimeout: DefaultLoadTimeout,
		data:        data,
		sanitizer:   sanitizer,
		metrics:     collector,
		now:         time.Now,
	}
}

// Get はセッションのStoreを返す。未読み込みの場合はリモートから読み込む。
// 同一セッションの同時読み込みは1回にまとめる。
// 読み込み中にDropされたセッションにはErrClosedを返し、Storeは保持しない。
func (r *Registry) Get(ctx context.Context, sessionID, userID, accessToken string) (*Store, error) {
	r.mu.Lock()
	s, ok := r.stores[sessionID]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	v, err, _ := r.loads.Do(sessionID, func() (interface{}, error) {
		r.mu.Lock()
		if existing, ok := r.stores[sessionID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		load := &pendingLoad{userID: userID}
		r.pending[sessionID] = load
		r.mu.Unlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		loaded, err := LoadAll(loadCtx, r.data, accessToken, userID)
		if err != nil {
			r.mu.Lock()
			delete(r.pending, sessionID)
			r.mu.Unlock()
			r.metrics.RecordStoreMutation("load", "backend_error")
			return nil, err
		}

		created := newStore(r.data, r.sanitizer, r.metrics, r.now, loaded)

		r.mu.Lock()
		delete(r.pending, sessionID)
		if load.dropped {
			r.mu.Unlock()
			created.close()
			r.metrics.RecordStoreMutation("load", "closed")
			return nil, ErrClosed
		}
		r.stores[sessionID] = created
		n := len(r.stores)
		r.mu.Unlock()

		r.metrics.RecordStoreMutation("load", "ok")
		r.metrics.SetActiveStores(n)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Drop はセッションのStoreを破棄する。実行中のコマンドの完了後、以降の操作はErrClosedになる。
// 読み込み中の場合は、読み込み完了時に破棄される。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	if load, ok := r.pending[sessionID]; ok {
		load.dropped = true
	}
	s, ok := r.stores[sessionID]
	delete(r.stores, sessionID)
	n := len(r.stores)
	r.mu.Unlock()

	if ok {
		s.close()
		r.metrics.SetActiveStores(n)
	}
}

// DropUser はユーザーのすべてのセッションのStoreを破棄し、破棄した数を返す。
// パスワード再設定で全セッションを失効させたときに使用する。
func (r *Registry) DropUser(userID string) int {
	r.mu.Lock()
	for _, load := range r.pending {
		if load.userID == userID {
			load.dropped = true
		}
	}
	var dropped []*Store
	for id, s := range r.stores {
		if s.userID == userID {
			dropped = append(dropped, s)
			delete(r.stores, id)
		}
	}
	n := len(r.stores)
	r.mu.Unlock()

	for _, s := range dropped {
		s.close()
	}
	if len(dropped) > 0 {
		r.metrics.SetActiveStores(n)
	}
	return len(dropped)
}

// Sweep はmaxIdle以上利用されていないStoreを破棄し、破棄した数を返す。
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	// Storeのロックを取得する間はRegistryのロックを保持しない
	r.mu.Lock()
	candidates := make(map[string]*Store, len(r.stores))
	for id, s := range r.stores {
		candidates[id] = s
	}
	r.mu.Unlock()

	var idle []string
	for id, s := range candidates {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	r.mu.Lock()
	var evicted []*Store
	for _, id := range idle {
		if s, ok := r.stores[id]; ok && s == candidates[id] {
			evicted = append(evicted, s)
			delete(r.stores, id)
		}
	}
	n := len(r.stores)
	r.mu.Unlock()

	for _, s := range evicted {
		s.close()
	}
	r.metrics.SetActiveStores(n)
	return len(evicted)
}

// Len は保持中のStore数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// StartSweeper はintervalごとにSweepを実行する。ctxがキャンセルされると終了する。
func (r *Registry) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}
