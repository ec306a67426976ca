package csrf

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewStore(client, "test:csrf", time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, srv
}

func TestEnsureTokenIsStablePerSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	first, err := store.EnsureToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ensure token: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("token length = %d, want 64", len(first))
	}
	second, err := store.EnsureToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ensure token: %v", err)
	}
	if first != second {
		t.Fatalf("token changed within a session")
	}
	other, _ := store.EnsureToken(ctx, "sess-2")
	if other == first {
		t.Fatalf("sessions must not share tokens")
	}
}

func TestVerify(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	token, err := store.EnsureToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ensure token: %v", err)
	}

	cases := []struct {
		name    string
		session string
		token   string
		want    bool
	}{
		{"matching token", "sess-1", token, true},
		{"wrong token", "sess-1", token[:63] + "x", false},
		{"empty token", "sess-1", "", false},
		{"unknown session", "sess-9", token, false},
		{"no session", "", token, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Verify(ctx, tc.session, tc.token)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if got != tc.want {
				t.Fatalf("verify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyAfterExpiry(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()
	token, _ := store.EnsureToken(ctx, "sess-1")
	srv.FastForward(2 * time.Hour)
	ok, err := store.Verify(ctx, "sess-1", token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expired session must not verify")
	}
}

func TestEnsureTokenRequiresSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.EnsureToken(context.Background(), " "); err != ErrSessionRequired {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}
