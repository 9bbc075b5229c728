package assistant

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/middleware"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/cache"
	"github.com/stealth-assistant-go/internal/services/llm"
	"github.com/stealth-assistant-go/internal/services/storage"
	"github.com/stealth-assistant-go/internal/services/usage"
)

// fakeGateway counts vendor calls and returns canned results
type fakeGateway struct {
	sendCalls    int
	analyzeCalls int
	result       *models.LLMResult
	err          error
}

func (f *fakeGateway) Send(ctx context.Context, provider models.ProviderID, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	f.sendCalls++
	return f.result, f.err
}

func (f *fakeGateway) AnalyzeImage(ctx context.Context, provider models.ProviderID, imageBase64, question string) (*models.LLMResult, error) {
	f.analyzeCalls++
	return f.result, f.err
}

func (f *fakeGateway) SetCredential(ctx context.Context, provider models.ProviderID, apiKey string) error {
	return nil
}

func (f *fakeGateway) ConfiguredProviders() []string {
	return nil
}

func okResult() *models.LLMResult {
	return &models.LLMResult{
		Response:  "fine answer",
		Provider:  "Claude",
		Model:     "claude-3-sonnet",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func newTestAssistant(t *testing.T, gateway llm.Service, cacheEnabled bool) (*Assistant, *storage.Manager, *usage.Governor) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Storage.Type = "memory"
	cfg.Cache.Enabled = cacheEnabled
	cfg.Cache.TTL = time.Minute
	cfg.Cache.MaxSize = 100

	store, err := storage.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	governor := usage.NewGovernor(store, log)
	cacheService := cache.NewCache(cfg, log)
	a := New(context.Background(), gateway, governor, store, cacheService, middleware.NewMetrics(), log)
	return a, store, governor
}

func usageFor(t *testing.T, store *storage.Manager, provider models.ProviderID) *models.UsageRecord {
	t.Helper()
	record, err := store.GetUsage(context.Background(), provider)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	return record
}

func TestSendRecordsUsageOnSuccess(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, store, _ := newTestAssistant(t, gw, false)
	ctx := context.Background()

	result, err := a.SendToLLM(ctx, models.ProviderClaude, "question", nil)
	if err != nil {
		t.Fatalf("SendToLLM: %v", err)
	}
	if result.Response != "fine answer" {
		t.Errorf("result = %+v", result)
	}
	if gw.sendCalls != 1 {
		t.Errorf("sendCalls = %d", gw.sendCalls)
	}

	record := usageFor(t, store, models.ProviderClaude)
	if record == nil || record.Daily != 1 || record.Monthly != 1 {
		t.Errorf("usage = %+v, want daily 1 monthly 1", record)
	}
}

func TestSendSkipsUsageOnErrorResult(t *testing.T) {
	gw := &fakeGateway{result: &models.LLMResult{
		Response: "Sorry, I encountered an error with Claude. Please try again or switch to a different provider.",
		Provider: "Claude",
		Error:    true,
	}}
	a, store, _ := newTestAssistant(t, gw, false)

	result, err := a.SendToLLM(context.Background(), models.ProviderClaude, "question", nil)
	if err != nil {
		t.Fatalf("SendToLLM: %v", err)
	}
	if !result.Error {
		t.Fatal("error flag lost")
	}
	if record := usageFor(t, store, models.ProviderClaude); record != nil {
		t.Errorf("failed call must not consume quota: %+v", record)
	}
}

func TestSendSkipsUsageOnStructuredFailure(t *testing.T) {
	gw := &fakeGateway{err: llm.ErrNotConfigured}
	a, store, _ := newTestAssistant(t, gw, false)

	_, err := a.SendToLLM(context.Background(), models.ProviderClaude, "question", nil)
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if record := usageFor(t, store, models.ProviderClaude); record != nil {
		t.Errorf("failed call must not consume quota: %+v", record)
	}
}

func TestQuotaBlocksBeforeVendorCall(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, store, _ := newTestAssistant(t, gw, false)
	ctx := context.Background()

	// Exhaust the free daily quota directly in storage
	now := time.Now()
	record := &models.UsageRecord{
		Daily:          10,
		Monthly:        10,
		LastDailyKey:   now.Format("2006-01-02"),
		LastMonthlyKey: now.Format("2006-01"),
	}
	if err := store.SaveUsage(ctx, models.ProviderClaude, record); err != nil {
		t.Fatalf("SaveUsage: %v", err)
	}

	_, err := a.SendToLLM(ctx, models.ProviderClaude, "question", nil)
	var quotaErr *usage.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if gw.sendCalls != 0 {
		t.Errorf("vendor called despite exhausted quota: %d calls", gw.sendCalls)
	}
}

func TestScreenshotRoutesToImageAnalysis(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, _, _ := newTestAssistant(t, gw, false)

	convCtx := &models.ConversationContext{Screenshot: "aW1hZ2U="}
	if _, err := a.SendToLLM(context.Background(), models.ProviderClaude, "what is on screen?", convCtx); err != nil {
		t.Fatalf("SendToLLM: %v", err)
	}
	if gw.analyzeCalls != 1 || gw.sendCalls != 0 {
		t.Errorf("analyzeCalls = %d, sendCalls = %d", gw.analyzeCalls, gw.sendCalls)
	}
}

func TestCacheHitSkipsVendorAndQuota(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, store, _ := newTestAssistant(t, gw, true)
	ctx := context.Background()

	if _, err := a.SendToLLM(ctx, models.ProviderClaude, "repeated question", nil); err != nil {
		t.Fatalf("first SendToLLM: %v", err)
	}
	result, err := a.SendToLLM(ctx, models.ProviderClaude, "repeated question", nil)
	if err != nil {
		t.Fatalf("second SendToLLM: %v", err)
	}
	if result.Response != "fine answer" {
		t.Errorf("cached result = %+v", result)
	}

	if gw.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1 (second call served from cache)", gw.sendCalls)
	}
	record := usageFor(t, store, models.ProviderClaude)
	if record.Daily != 1 {
		t.Errorf("daily = %d, cache hits must not consume quota", record.Daily)
	}
}

func TestScreenshotRequestsBypassCache(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, _, _ := newTestAssistant(t, gw, true)
	ctx := context.Background()

	convCtx := &models.ConversationContext{Screenshot: "aW1hZ2U="}
	for i := 0; i < 2; i++ {
		if _, err := a.SendToLLM(ctx, models.ProviderClaude, "same question", convCtx); err != nil {
			t.Fatalf("SendToLLM: %v", err)
		}
	}
	if gw.analyzeCalls != 2 {
		t.Errorf("analyzeCalls = %d, image requests must never be cached", gw.analyzeCalls)
	}
}

func TestAnalyzeImageRecordsUsage(t *testing.T) {
	gw := &fakeGateway{result: okResult()}
	a, store, _ := newTestAssistant(t, gw, false)

	if _, err := a.AnalyzeImage(context.Background(), models.ProviderGPT4, "aW1hZ2U=", "what is this?"); err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	record := usageFor(t, store, models.ProviderGPT4)
	if record == nil || record.Daily != 1 {
		t.Errorf("usage = %+v", record)
	}
}

func TestSubscriptionDefaultsToFree(t *testing.T) {
	a, _, _ := newTestAssistant(t, &fakeGateway{}, false)

	sub, err := a.Subscription(context.Background())
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if sub.Tier != models.TierFree {
		t.Errorf("tier = %s, want free", sub.Tier)
	}
}

func TestSettingsDefaults(t *testing.T) {
	a, _, _ := newTestAssistant(t, &fakeGateway{}, false)

	settings, err := a.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	want := models.DefaultUserSettings()
	if *settings != *want {
		t.Errorf("settings = %+v, want %+v", settings, want)
	}
}

func TestToggleStealth(t *testing.T) {
	a, _, _ := newTestAssistant(t, &fakeGateway{}, false)

	if a.Stealth() {
		t.Fatal("stealth on by default without stored settings")
	}
	if !a.ToggleStealth() {
		t.Fatal("first toggle should enable stealth")
	}
	if a.ToggleStealth() {
		t.Fatal("second toggle should disable stealth")
	}
}

func TestStealthByDefaultFromSettings(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Storage.Type = "memory"

	store, err := storage.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := store.SaveSettings(ctx, &models.UserSettings{StealthByDefault: true}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	a := New(ctx, &fakeGateway{}, usage.NewGovernor(store, log), store, cache.NewCache(cfg, log), middleware.NewMetrics(), log)
	if !a.Stealth() {
		t.Error("stored stealth-by-default not applied")
	}
}
