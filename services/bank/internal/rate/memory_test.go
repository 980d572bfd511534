package rate

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, alice, now)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}

	allowed, retryAfter, err := lim.Allow(ctx, alice, now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected third request limited")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retryAfter %v", retryAfter)
	}

	// A new window opens once the old one expires.
	later := now.Add(2 * time.Minute)
	allowed, _, err = lim.Allow(ctx, alice, later)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allow after window reset")
	}
}

func TestMemoryLimiterPrincipalsAreIndependent(t *testing.T) {
	lim := NewMemory(1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	if allowed, _, _ := lim.Allow(ctx, alice, now); !allowed {
		t.Fatalf("expected alice allowed")
	}
	if allowed, _, _ := lim.Allow(ctx, alice, now); allowed {
		t.Fatalf("expected alice limited")
	}
	if allowed, _, _ := lim.Allow(ctx, bob, now); !allowed {
		t.Fatalf("expected bob unaffected by alice's window")
	}
}
