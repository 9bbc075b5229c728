package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/assistant"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/i18n"
	"github.com/stealth-assistant-go/internal/middleware"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/cache"
	"github.com/stealth-assistant-go/internal/services/llm"
	"github.com/stealth-assistant-go/internal/services/storage"
	"github.com/stealth-assistant-go/internal/services/usage"
)

type testEnv struct {
	api     *API
	store   *storage.Manager
	gateway llm.Service
}

// newTestEnv builds the full request path against an in-memory store. The
// localizer is built with no language files so messages fall back to their
// IDs, which keeps assertions stable.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Storage.Type = "memory"

	store, err := storage.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	gateway, err := llm.NewGateway(ctx, store, &config.ContextConfig{MaxMessages: 5}, log)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}

	metrics := middleware.NewMetrics()
	governor := usage.NewGovernor(store, log)
	a := assistant.New(ctx, gateway, governor, store, cache.NewCache(cfg, log), metrics, log)

	return &testEnv{
		api:     NewAPI(a, middleware.NewRateLimiter(cfg, log), localizer, metrics, log),
		store:   store,
		gateway: gateway,
	}
}

func (env *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "127.0.0.1:51234"
	rec := httptest.NewRecorder()
	env.api.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestChatNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/chat", map[string]string{
		"provider": "claude",
		"message":  "hello",
	})

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["error"] != i18n.MsgProviderNotConfigured {
		t.Errorf("error = %v", payload["error"])
	}
}

func TestChatUnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/chat", map[string]string{
		"provider": "copilot",
		"message":  "hello",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/chat", map[string]string{"provider": "claude"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.gateway.SetCredential(ctx, models.ProviderClaude, "sk-test"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	now := time.Now()
	record := &models.UsageRecord{
		Daily:          10,
		Monthly:        10,
		LastDailyKey:   now.Format("2006-01-02"),
		LastMonthlyKey: now.Format("2006-01"),
	}
	if err := env.store.SaveUsage(ctx, models.ProviderClaude, record); err != nil {
		t.Fatalf("SaveUsage: %v", err)
	}

	rec := env.do(t, "POST", "/api/chat", map[string]string{
		"provider": "claude",
		"message":  "hello",
	})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["error"] != i18n.MsgQuotaDailyExceeded {
		t.Errorf("error = %v", payload["error"])
	}
}

func TestChatRendersOverlayHTML(t *testing.T) {
	// A vendor fake so the chat round trip succeeds with markdown output
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "use **bold** text"}},
		})
	}))
	defer vendor.Close()

	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.SetCredential(ctx, models.ProviderClaude, &models.Credential{APIKey: "sk-test", BaseURL: vendor.URL}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	// Rebuild the in-memory client from the stored base URL override
	if err := env.gateway.SetCredential(ctx, models.ProviderClaude, "sk-test"); err != nil {
		t.Fatalf("gateway SetCredential: %v", err)
	}

	rec := env.do(t, "POST", "/api/chat?render=html", map[string]string{
		"provider": "claude",
		"message":  "hello",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decodeJSON(t, rec)
	html, _ := payload["html"].(string)
	if !strings.Contains(html, "<b>bold</b>") {
		t.Errorf("html = %q", html)
	}
}

func TestImageUnsupportedCapability(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/image", map[string]string{
		"provider": "grok",
		"image":    "aW1hZ2U=",
		"question": "what is this?",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["error"] != i18n.MsgUnsupportedCapability {
		t.Errorf("error = %v", payload["error"])
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "PUT", "/api/credentials/gemini", map[string]string{"api_key": "g-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decodeJSON(t, rec)
	providers := payload["providers"].([]interface{})
	if len(providers) != 1 || providers[0] != "Gemini" {
		t.Errorf("providers = %v", providers)
	}

	rec = env.do(t, "GET", "/api/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload = decodeJSON(t, rec)
	providers = payload["providers"].([]interface{})
	if len(providers) != 1 || providers[0] != "Gemini" {
		t.Errorf("providers after GET = %v", providers)
	}
}

func TestCredentialEmptyKeyRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "PUT", "/api/credentials/claude", map[string]string{"api_key": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now()
	record := &models.UsageRecord{
		Daily:          3,
		Monthly:        17,
		LastDailyKey:   now.Format("2006-01-02"),
		LastMonthlyKey: now.Format("2006-01"),
	}
	if err := env.store.SaveUsage(ctx, models.ProviderGPT4, record); err != nil {
		t.Fatalf("SaveUsage: %v", err)
	}

	rec := env.do(t, "GET", "/api/usage/gpt4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["daily"] != float64(3) || payload["monthly"] != float64(17) {
		t.Errorf("usage = %v", payload)
	}
	limits := payload["limits"].(map[string]interface{})
	if limits["daily"] != float64(10) || limits["monthly"] != float64(100) {
		t.Errorf("limits = %v, want free tier", limits)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["theme"] != "dark" {
		t.Errorf("default theme = %v", payload["theme"])
	}

	rec = env.do(t, "PUT", "/api/settings", map[string]interface{}{
		"theme":    "light",
		"opacity":  0.7,
		"position": "bottom-left",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}

	rec = env.do(t, "GET", "/api/settings", nil)
	payload = decodeJSON(t, rec)
	if payload["theme"] != "light" || payload["position"] != "bottom-left" {
		t.Errorf("settings = %v", payload)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "PUT", "/api/subscription", map[string]string{"tier": "platinum"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown tier", rec.Code)
	}

	rec = env.do(t, "PUT", "/api/subscription", map[string]string{"tier": "pro"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	sub, err := env.store.GetSubscription(context.Background())
	if err != nil || sub == nil || sub.Tier != models.TierPro {
		t.Errorf("stored subscription = %+v, err %v", sub, err)
	}
}

func TestToggleStealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/stealth/toggle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["stealth"] != true {
		t.Errorf("stealth = %v, want true after first toggle", payload["stealth"])
	}

	rec = env.do(t, "POST", "/api/stealth/toggle", nil)
	payload = decodeJSON(t, rec)
	if payload["stealth"] != false {
		t.Errorf("stealth = %v, want false after second toggle", payload["stealth"])
	}
}
