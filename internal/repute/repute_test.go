package repute

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestCheckFirstConfirmedWins(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	c := NewURLChecker([]string{"a", "b"}, cache)
	c.probe = func(endpoint, target string) *bool {
		if endpoint == "a" {
			time.Sleep(200 * time.Millisecond) // slow source
			return boolPtr(false)
		}
		return boolPtr(true)
	}

	start := time.Now()
	v := c.Check(context.Background(), "http://bad.test")
	if v == nil || !*v {
		t.Fatalf("expected confirmed malicious, got %v", v)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("confirmed verdict should not wait for slow source")
	}
}

func TestCheckAllInconclusive(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	c := NewURLChecker([]string{"a", "b"}, cache)
	c.probe = func(endpoint, target string) *bool { return nil }

	if v := c.Check(context.Background(), "http://x.test"); v != nil {
		t.Fatalf("expected inconclusive nil, got %v", *v)
	}
}

func TestCheckCleanResultCached(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	var calls atomic.Int32
	c := NewURLChecker([]string{"a"}, cache)
	c.probe = func(endpoint, target string) *bool {
		calls.Add(1)
		return boolPtr(false)
	}

	for i := 0; i < 3; i++ {
		v := c.Check(context.Background(), "http://clean.test")
		if v == nil || *v {
			t.Fatalf("expected clean verdict, got %v", v)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 external call, got %d", calls.Load())
	}
}

func TestCheckNoEndpoints(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	c := NewURLChecker(nil, cache)
	if v := c.Check(context.Background(), "http://x.test"); v != nil {
		t.Fatalf("no endpoints must be inconclusive, got %v", *v)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(30 * time.Millisecond)
	defer cache.Close()

	cache.put("u", verdict{malicious: boolPtr(true)})
	if _, ok := cache.get("u"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := cache.get("u"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestNSFWDisabled(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	c := NewNSFWClassifier("", cache)
	if c.Enabled() {
		t.Fatal("empty endpoint must report disabled")
	}
	if _, ok := c.Score(context.Background(), "http://img.test/a.png"); ok {
		t.Fatal("disabled classifier must not return scores")
	}
}

func TestNSFWScoreCached(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	var calls atomic.Int32
	c := NewNSFWClassifier("http://clf.test", cache)
	c.score = func(target string) (float64, error) {
		calls.Add(1)
		return 0.93, nil
	}

	for i := 0; i < 2; i++ {
		score, ok := c.Score(context.Background(), "http://img.test/a.png")
		if !ok || score != 0.93 {
			t.Fatalf("Score = (%f, %v)", score, ok)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 classifier call, got %d", calls.Load())
	}
}

func TestNSFWFailureInconclusive(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	c := NewNSFWClassifier("http://clf.test", cache)
	c.score = func(target string) (float64, error) {
		return 0, errors.New("upstream 500")
	}

	if _, ok := c.Score(context.Background(), "http://img.test/a.png"); ok {
		t.Fatal("failed classification must be inconclusive")
	}
	if cache.Len() != 0 {
		t.Fatal("failures must not be cached")
	}
}
