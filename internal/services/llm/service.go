package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/storage"
)

var (
	// ErrNotConfigured is returned when no credential is stored for a provider
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnsupportedCapability is returned when a provider cannot serve the
	// requested capability, e.g. image analysis on a text-only provider
	ErrUnsupportedCapability = errors.New("capability not supported by provider")
)

// Service is the provider gateway contract consumed by the assistant
type Service interface {
	Send(ctx context.Context, provider models.ProviderID, message string, convCtx *models.ConversationContext) (*models.LLMResult, error)
	AnalyzeImage(ctx context.Context, provider models.ProviderID, imageBase64, question string) (*models.LLMResult, error)
	SetCredential(ctx context.Context, provider models.ProviderID, apiKey string) error
	ConfiguredProviders() []string
}

// descriptor is the static wiring for one provider: endpoints, model name
// constants per capability, and the degrade-to-mock policy flag
type descriptor struct {
	id            models.ProviderID
	displayName   string
	baseURL       string
	chatModel     string
	visionModel   string // empty means no native multimodal capability
	degradeToMock bool
}

var descriptors = map[models.ProviderID]descriptor{
	models.ProviderClaude: {
		id:          models.ProviderClaude,
		displayName: "Claude",
		baseURL:     "https://api.anthropic.com",
		chatModel:   "claude-3-sonnet-20240229",
		visionModel: "claude-3-sonnet-20240229",
	},
	models.ProviderGPT4: {
		id:          models.ProviderGPT4,
		displayName: "GPT-4",
		baseURL:     "https://api.openai.com/v1",
		chatModel:   "gpt-4-turbo-preview",
		visionModel: "gpt-4-vision-preview",
	},
	models.ProviderGemini: {
		id:          models.ProviderGemini,
		displayName: "Gemini",
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		chatModel:   "gemini-pro",
		visionModel: "gemini-pro-vision",
	},
	models.ProviderGrok: {
		id:            models.ProviderGrok,
		displayName:   "Grok",
		baseURL:       "https://api.x.ai/v1",
		chatModel:     "grok-1",
		degradeToMock: true,
	},
}

const (
	maxOutputTokens = 1000
	temperature     = 0.7
)

// client is one live registry entry: the descriptor plus its credential.
// Entries are replaced atomically on credential update.
type client struct {
	descriptor
	apiKey string
}

// Gateway normalizes abstract chat and image-analysis requests into
// provider-specific wire calls and all vendor responses into LLMResult
type Gateway struct {
	storage     *storage.Manager
	httpClient  *http.Client
	logger      *logrus.Logger
	maxMessages int
	persona     string

	mu      sync.RWMutex
	clients map[models.ProviderID]*client
}

// NewGateway builds the client registry from stored credentials
func NewGateway(ctx context.Context, store *storage.Manager, cfg *config.ContextConfig, logger *logrus.Logger) (*Gateway, error) {
	g := &Gateway{
		storage: store,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger:      logger,
		maxMessages: cfg.MaxMessages,
		persona:     cfg.Persona,
		clients:     make(map[models.ProviderID]*client),
	}

	for _, id := range models.AllProviders() {
		cred, err := store.GetCredential(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential for %s: %w", id, err)
		}
		if cred == nil || cred.APIKey == "" {
			continue
		}
		g.setClient(id, cred)
	}

	g.logger.WithField("providers", len(g.clients)).Info("LLM gateway initialized")
	return g, nil
}

func (g *Gateway) setClient(id models.ProviderID, cred *models.Credential) {
	desc := descriptors[id]
	if cred.BaseURL != "" {
		desc.baseURL = cred.BaseURL
	}

	g.mu.Lock()
	g.clients[id] = &client{descriptor: desc, apiKey: cred.APIKey}
	g.mu.Unlock()
}

func (g *Gateway) getClient(id models.ProviderID) *client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients[id]
}

// SetCredential persists the key and replaces only that provider's
// registry entry, so unrelated in-flight calls keep their client
func (g *Gateway) SetCredential(ctx context.Context, id models.ProviderID, apiKey string) error {
	if _, ok := descriptors[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownProvider, id)
	}

	// Preserve a stored base URL override across key changes
	existing, err := g.storage.GetCredential(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read credential for %s: %w", id, err)
	}
	cred := &models.Credential{APIKey: apiKey}
	if existing != nil {
		cred.BaseURL = existing.BaseURL
	}

	if err := g.storage.SetCredential(ctx, id, cred); err != nil {
		return fmt.Errorf("failed to persist credential for %s: %w", id, err)
	}

	g.setClient(id, cred)
	g.logger.WithField("provider", id).Info("Provider credential updated")
	return nil
}

// ConfiguredProviders returns display names of providers with a stored
// credential, in fixed claude -> grok order
func (g *Gateway) ConfiguredProviders() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	for _, id := range models.AllProviders() {
		if _, ok := g.clients[id]; ok {
			names = append(names, descriptors[id].displayName)
		}
	}
	return names
}

// Send dispatches a chat request to the provider. Structured failures
// (unknown provider, missing credential) return an error before any vendor
// I/O; vendor failures are absorbed into an error-flagged LLMResult.
func (g *Gateway) Send(ctx context.Context, id models.ProviderID, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	desc, ok := descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, id)
	}

	c := g.getClient(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, desc.displayName)
	}

	if convCtx == nil {
		convCtx = &models.ConversationContext{}
	}

	var (
		result *models.LLMResult
		err    error
	)

	switch id {
	case models.ProviderClaude:
		result, err = g.sendClaude(ctx, c, message, convCtx)
	case models.ProviderGPT4:
		result, err = g.sendGPT(ctx, c, message, convCtx)
	case models.ProviderGemini:
		result, err = g.sendGemini(ctx, c, message, convCtx)
	case models.ProviderGrok:
		result, err = g.sendGrok(ctx, c, message, convCtx)
	}

	if err != nil {
		g.logger.WithError(err).WithField("provider", id).Error("Provider request failed")
		return g.errorResult(desc, err), nil
	}

	return result, nil
}

// AnalyzeImage dispatches a single-turn multimodal request. Providers
// without native vision fail with ErrUnsupportedCapability before any
// vendor call is issued.
func (g *Gateway) AnalyzeImage(ctx context.Context, id models.ProviderID, imageBase64, question string) (*models.LLMResult, error) {
	desc, ok := descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, id)
	}

	if desc.visionModel == "" {
		return nil, fmt.Errorf("%w: image analysis on %s", ErrUnsupportedCapability, desc.displayName)
	}

	c := g.getClient(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, desc.displayName)
	}

	if question == "" {
		question = "What do you see in this image?"
	}

	var (
		result *models.LLMResult
		err    error
	)

	switch id {
	case models.ProviderClaude:
		result, err = g.analyzeClaude(ctx, c, imageBase64, question)
	case models.ProviderGPT4:
		result, err = g.analyzeGPT(ctx, c, imageBase64, question)
	case models.ProviderGemini:
		result, err = g.analyzeGemini(ctx, c, imageBase64, question)
	}

	if err != nil {
		g.logger.WithError(err).WithField("provider", id).Error("Image analysis failed")
		return g.errorResult(desc, err), nil
	}

	return result, nil
}

// errorResult converts a vendor failure into the user-facing result shape;
// callers never see a transport error directly
func (g *Gateway) errorResult(desc descriptor, err error) *models.LLMResult {
	return &models.LLMResult{
		Response: fmt.Sprintf("Sorry, I encountered an error with %s. Please try again or switch to a different provider.",
			desc.displayName),
		Provider:  desc.displayName,
		Timestamp: timestamp(),
		Error:     true,
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
