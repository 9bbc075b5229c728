package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/models"
)

func newTestCache(t *testing.T, enabled bool) Service {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Cache.Enabled = enabled
	cfg.Cache.TTL = time.Minute
	cfg.Cache.MaxSize = 100

	return NewCache(cfg, log)
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, true)
	ctx := context.Background()

	if _, found := c.Get(ctx, models.ProviderClaude, "question"); found {
		t.Fatal("unexpected hit on empty cache")
	}

	want := &models.LLMResult{Response: "answer", Provider: "Claude"}
	if err := c.Set(ctx, models.ProviderClaude, "question", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, found := c.Get(ctx, models.ProviderClaude, "question")
	if !found || got.Response != "answer" {
		t.Errorf("got %+v, found %v", got, found)
	}

	// Same question on another provider is a distinct entry
	if _, found := c.Get(ctx, models.ProviderGemini, "question"); found {
		t.Error("cache entries must be keyed per provider")
	}
}

func TestCacheSkipsErrorResults(t *testing.T) {
	c := newTestCache(t, true)
	ctx := context.Background()

	bad := &models.LLMResult{Response: "vendor down", Error: true}
	if err := c.Set(ctx, models.ProviderClaude, "question", bad); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found := c.Get(ctx, models.ProviderClaude, "question"); found {
		t.Error("error results must not be cached")
	}
}

func TestCacheStoresCopies(t *testing.T) {
	c := newTestCache(t, true)
	ctx := context.Background()

	result := &models.LLMResult{Response: "original"}
	if err := c.Set(ctx, models.ProviderClaude, "question", result); err != nil {
		t.Fatalf("Set: %v", err)
	}
	result.Response = "mutated"

	got, found := c.Get(ctx, models.ProviderClaude, "question")
	if !found || got.Response != "original" {
		t.Errorf("cached value shares memory with caller: %+v", got)
	}
}

func TestCacheDisabled(t *testing.T) {
	c := newTestCache(t, false)
	ctx := context.Background()

	if err := c.Set(ctx, models.ProviderClaude, "question", &models.LLMResult{Response: "answer"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found := c.Get(ctx, models.ProviderClaude, "question"); found {
		t.Error("disabled cache must never hit")
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t, true)
	ctx := context.Background()

	if err := c.Set(ctx, models.ProviderClaude, "question", &models.LLMResult{Response: "answer"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, found := c.Get(ctx, models.ProviderClaude, "question"); found {
		t.Error("entry survived Clear")
	}
}
