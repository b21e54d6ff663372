package results

import (
	"context"
	"sync"
	"time"

	"battlecore/server/application"
)

// Registry はバトル記録の読み出し口です。
type Registry interface {
	Get(ctx context.Context, battleID string) (Entry, error)
	List(ctx context.Context) []Entry
}

// ConcurrentStore は Store をミューテックスで守り、複数のバトルと HTTP ハンドラーから共有できるようにします。
type ConcurrentStore struct {
	base *Store
	clk  func() time.Time
	mu   sync.RWMutex
}

func NewConcurrentStore(base *Store) *ConcurrentStore {
	return &ConcurrentStore{
		base: base,
		clk:  time.Now,
	}
}

func (c *ConcurrentStore) WithClock(clock func() time.Time) *ConcurrentStore {
	if clock != nil {
		c.clk = clock
	}
	return c
}

func (c *ConcurrentStore) Get(ctx context.Context, battleID string) (Entry, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.get(battleID)
}

func (c *ConcurrentStore) List(ctx context.Context) []Entry {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.list()
}

// Track は battleID の進行を記録する Observer を返します。
func (c *ConcurrentStore) Track(battleID string) application.Observer {
	c.mu.Lock()
	c.base.applyStart(battleID, c.now())
	c.mu.Unlock()
	return &tracker{store: c, battleID: battleID}
}

func (c *ConcurrentStore) now() time.Time {
	if c.clk == nil {
		return time.Now()
	}
	return c.clk()
}

var _ Registry = (*ConcurrentStore)(nil)

type tracker struct {
	store    *ConcurrentStore
	battleID string
}

func (t *tracker) OnTurn(ctx context.Context, record *application.TurnRecord) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.base.applyTurn(t.battleID, record.Snapshot.Round, record.Snapshot.Turn, t.store.now())
}

func (t *tracker) OnRoundEnded(ctx context.Context, round int, turns int) {}

func (t *tracker) OnBattleEnded(ctx context.Context, results *application.BattleResults, err error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.base.applyEnd(t.battleID, results, err, t.store.now())
}

var _ application.Observer = (*tracker)(nil)
