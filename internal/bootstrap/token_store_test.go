package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTokenStore(rdb), mr
}

func TestTokenStore_CreateAndConsume(t *testing.T) {
	ts, _ := newTestStore(t)
	ctx := context.Background()

	token, err := ts.CreateToken(ctx, TokenData{RelayID: "r1", CreatedBy: "automation"}, time.Minute)
	if err != nil {
		t.Fatalf("CreateToken() failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(token))
	}

	data, err := ts.ConsumeToken(ctx, token)
	if err != nil {
		t.Fatalf("ConsumeToken() failed: %v", err)
	}
	if data.RelayID != "r1" || data.CreatedBy != "automation" {
		t.Errorf("Unexpected token data: %+v", data)
	}

	if _, err := ts.ConsumeToken(ctx, token); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Second consume should fail with ErrTokenNotFound, got %v", err)
	}
}

func TestTokenStore_PeekDoesNotConsume(t *testing.T) {
	ts, _ := newTestStore(t)
	ctx := context.Background()

	token, err := ts.CreateToken(ctx, TokenData{RelayID: "r1", CreatedBy: "automation"}, time.Minute)
	if err != nil {
		t.Fatalf("CreateToken() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		data, err := ts.PeekToken(ctx, token)
		if err != nil {
			t.Fatalf("PeekToken() failed: %v", err)
		}
		if data.RelayID != "r1" {
			t.Errorf("Expected relay id r1, got %s", data.RelayID)
		}
	}

	if _, err := ts.ConsumeToken(ctx, token); err != nil {
		t.Fatalf("ConsumeToken() after peek failed: %v", err)
	}
	if _, err := ts.PeekToken(ctx, token); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expected consumed token to be gone, got %v", err)
	}
}

func TestTokenStore_Expiry(t *testing.T) {
	ts, mr := newTestStore(t)
	ctx := context.Background()

	token, err := ts.CreateToken(ctx, TokenData{CreatedBy: "automation"}, time.Minute)
	if err != nil {
		t.Fatalf("CreateToken() failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := ts.ConsumeToken(ctx, token); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expected expired token to be rejected, got %v", err)
	}
}

func TestTokenStore_UnknownToken(t *testing.T) {
	ts, _ := newTestStore(t)
	if _, err := ts.ConsumeToken(context.Background(), "nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expected ErrTokenNotFound, got %v", err)
	}
}
