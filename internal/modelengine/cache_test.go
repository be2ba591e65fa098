package modelengine

import (
	"testing"
	"time"
)

func TestResponseCacheHitIsFresh(t *testing.T) {
	c := NewResponseCache(CacheConfig{TTL: time.Hour})
	req := CompletionRequest{Model: "m1", Prompt: "hi"}
	c.Put(req, "hello", 1, 1)

	resp, fresh, ok := c.Get(req)
	if !ok || !fresh {
		t.Fatalf("ok=%v fresh=%v, want both true", ok, fresh)
	}
	if resp.Text != "hello" {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestResponseCacheKeyIncludesOptions(t *testing.T) {
	req1 := CompletionRequest{Model: "m1", Prompt: "hi", Options: map[string]any{"temperature": 0.1}}
	req2 := CompletionRequest{Model: "m1", Prompt: "hi", Options: map[string]any{"temperature": 0.9}}
	if Key(req1) == Key(req2) {
		t.Fatal("requests differing only by options must hash to different keys")
	}
}

func TestResponseCacheStaleRequiresAllowStale(t *testing.T) {
	c := NewResponseCache(CacheConfig{TTL: time.Millisecond, AllowStaleOnOutage: false})
	req := CompletionRequest{Model: "m1", Prompt: "hi"}
	c.Put(req, "hello", 1, 1)
	time.Sleep(5 * time.Millisecond)

	_, fresh, ok := c.Get(req)
	if !ok {
		t.Fatal("entry should still be present within the stale window")
	}
	if fresh {
		t.Fatal("entry should be reported stale past its TTL")
	}
	if c.AllowStale() {
		t.Fatal("AllowStale must reflect the configured value")
	}
}

func TestResponseCacheMissReturnsFalse(t *testing.T) {
	c := NewResponseCache(CacheConfig{TTL: time.Hour})
	_, _, ok := c.Get(CompletionRequest{Model: "m1", Prompt: "never cached"})
	if ok {
		t.Fatal("expected cache miss")
	}
}
