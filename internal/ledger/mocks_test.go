package ledger_test

import (
	"context"

	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/store"
)

// mockKV wraps an in-memory store so tests can inject failures and count
// writes without re-implementing storage.
type mockKV struct {
	inner  *store.MemoryKV
	getFn  func(ctx context.Context, key string) ([]byte, error)
	setFn  func(ctx context.Context, key string, value []byte) error
	sets   int
	setLog []string
}

func newMockKV() *mockKV {
	return &mockKV{inner: store.NewMemoryKV()}
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return m.inner.Get(ctx, key)
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	m.sets++
	m.setLog = append(m.setLog, key)
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return m.inner.Set(ctx, key, value)
}

type mockUserResolver struct {
	resolveFn func(ctx context.Context, userID string) (model.User, bool)
}

func (m *mockUserResolver) ResolveUser(ctx context.Context, userID string) (model.User, bool) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, userID)
	}
	return model.User{}, false
}
