package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterWaitPacesOneAccount(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "acct-1"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterAccountsAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "acct-a"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "acct-b"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("acct-b blocked unexpectedly")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.Len())
	}
	l.Forget("acct-a")
	if l.Len() != 1 {
		t.Fatalf("expected 1 bucket after Forget, got %d", l.Len())
	}
}

func TestLimiterWaitHonorsCancel(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.01, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "acct-1"); err != nil {
		t.Fatal(err)
	}
	cancel()
	err := l.Wait(ctx, "acct-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "acct-1"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("unlimited limiter should not block")
	}
}
