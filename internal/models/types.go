package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a provider identifier cannot be resolved.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderID identifies one of the supported LLM vendors
type ProviderID string

const (
	ProviderClaude ProviderID = "claude"
	ProviderGPT4   ProviderID = "gpt4"
	ProviderGemini ProviderID = "gemini"
	ProviderGrok   ProviderID = "grok"
)

// AllProviders returns every provider in display order
func AllProviders() []ProviderID {
	return []ProviderID{ProviderClaude, ProviderGPT4, ProviderGemini, ProviderGrok}
}

// ParseProvider resolves user-supplied provider names, including the
// aliases the overlay UI historically sent ("gpt-4", "openai")
func ParseProvider(s string) (ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "anthropic":
		return ProviderClaude, nil
	case "gpt4", "gpt-4", "openai":
		return ProviderGPT4, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "grok":
		return ProviderGrok, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, s)
	}
}

// Sender identifies who authored a transcript message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message represents one turn in the chat transcript
type Message struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// Assistant modes steering system-prompt construction
const (
	ModeInterview = "interview"
	ModeCoding    = "coding"
	ModeLearning  = "learning"
)

// ContextSettings carries the mode flags attached to a request
type ContextSettings struct {
	Mode     string `json:"mode,omitempty"`
	Language string `json:"language,omitempty"`
}

// ConversationContext is the value object passed into every LLM request
type ConversationContext struct {
	RecentMessages []Message       `json:"recentMessages,omitempty"`
	Screenshot     string          `json:"screenshot,omitempty"` // base64 PNG
	Settings       ContextSettings `json:"settings,omitempty"`
}

// LLMResult is the normalized response shape every caller sees,
// regardless of which vendor answered
type LLMResult struct {
	Response  string                 `json:"response"`
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Usage     map[string]interface{} `json:"usage,omitempty"`
	Error     bool                   `json:"error,omitempty"`
}

// Credential holds a provider API key plus an optional base URL override
// (used by providers without a first-party public endpoint)
type Credential struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// UsageRecord tracks per-provider call counters with calendar keys
type UsageRecord struct {
	Daily          int    `json:"daily"`
	Monthly        int    `json:"monthly"`
	LastDailyKey   string `json:"last_daily"`
	LastMonthlyKey string `json:"last_monthly"`
}

// Tier is the subscription level governing quota ceilings
type Tier string

const (
	TierFree      Tier = "free"
	TierBasic     Tier = "basic"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// TierLimits is a daily/monthly call ceiling pair. A negative value
// means no ceiling.
type TierLimits struct {
	Daily   int
	Monthly int
}

// Limits returns the quota ceilings for a tier. Unknown tiers fall
// back to free.
func (t Tier) Limits() TierLimits {
	switch t {
	case TierBasic:
		return TierLimits{Daily: 100, Monthly: 1000}
	case TierPro:
		return TierLimits{Daily: 1000, Monthly: 10000}
	case TierUnlimited:
		return TierLimits{Daily: -1, Monthly: -1}
	default:
		return TierLimits{Daily: 10, Monthly: 100}
	}
}

// Subscription is the persisted subscription state
type Subscription struct {
	Tier Tier `json:"tier"`
}

// UserSettings represents persisted display settings for the overlay
type UserSettings struct {
	Theme            string     `json:"theme"`
	Opacity          float64    `json:"opacity"`
	Position         string     `json:"position"`
	AutoHide         bool       `json:"auto_hide"`
	StealthByDefault bool       `json:"stealth_by_default"`
	DefaultProvider  ProviderID `json:"default_provider,omitempty"`
	Language         string     `json:"language,omitempty"`
}

// DefaultUserSettings returns the settings used before the user saves any
func DefaultUserSettings() *UserSettings {
	return &UserSettings{
		Theme:    "dark",
		Opacity:  0.9,
		Position: "top-right",
		AutoHide: true,
	}
}
