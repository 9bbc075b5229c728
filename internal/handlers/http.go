package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/assistant"
	"github.com/stealth-assistant-go/internal/i18n"
	"github.com/stealth-assistant-go/internal/middleware"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/llm"
	"github.com/stealth-assistant-go/internal/services/usage"
	"github.com/stealth-assistant-go/pkg/markdown"
)

// API exposes the assistant core to the host shell over loopback HTTP.
// This is the Go rendition of the overlay's IPC boundary.
type API struct {
	assistant *assistant.Assistant
	limiter   middleware.RateLimiter
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewAPI creates the host-shell API
func NewAPI(a *assistant.Assistant, limiter middleware.RateLimiter, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *API {
	return &API{
		assistant: a,
		limiter:   limiter,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Router builds the route table
func (api *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(api.rateLimitMiddleware)

	router.HandleFunc("/api/chat", api.handleChat).Methods("POST")
	router.HandleFunc("/api/image", api.handleImage).Methods("POST")
	router.HandleFunc("/api/credentials/{provider}", api.handleSetCredential).Methods("PUT")
	router.HandleFunc("/api/providers", api.handleProviders).Methods("GET")
	router.HandleFunc("/api/usage/{provider}", api.handleUsage).Methods("GET")
	router.HandleFunc("/api/settings", api.handleGetSettings).Methods("GET")
	router.HandleFunc("/api/settings", api.handleSaveSettings).Methods("PUT")
	router.HandleFunc("/api/subscription", api.handleSetSubscription).Methods("PUT")
	router.HandleFunc("/api/stealth/toggle", api.handleToggleStealth).Methods("POST")

	return router
}

type chatRequest struct {
	Provider string                      `json:"provider"`
	Message  string                      `json:"message"`
	Context  *models.ConversationContext `json:"context,omitempty"`
}

type chatResponse struct {
	*models.LLMResult
	HTML string `json:"html,omitempty"`
}

func (api *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	result, err := api.assistant.SendToLLM(r.Context(), provider, req.Message, req.Context)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	resp := chatResponse{LLMResult: result}
	if r.URL.Query().Get("render") == "html" {
		resp.HTML = markdown.ToOverlayHTML(result.Response)
	}

	api.metrics.RecordHTTPRequest("chat", "ok")
	api.writeJSON(w, http.StatusOK, resp)
}

type imageRequest struct {
	Provider string `json:"provider"`
	Image    string `json:"image"`
	Question string `json:"question,omitempty"`
}

func (api *API) handleImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	result, err := api.assistant.AnalyzeImage(r.Context(), provider, req.Image, req.Question)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	api.metrics.RecordHTTPRequest("image", "ok")
	api.writeJSON(w, http.StatusOK, result)
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

func (api *API) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	if err := api.assistant.SetCredential(r.Context(), provider, req.APIKey); err != nil {
		api.writeFailure(w, r, err)
		return
	}

	api.metrics.RecordHTTPRequest("credentials", "ok")
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": api.assistant.ConfiguredProviders(),
	})
}

func (api *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := api.assistant.ConfiguredProviders()
	if names == nil {
		names = []string{}
	}
	api.metrics.RecordHTTPRequest("providers", "ok")
	api.writeJSON(w, http.StatusOK, map[string]interface{}{"providers": names})
}

func (api *API) handleUsage(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	record, limits, err := api.assistant.Usage(r.Context(), provider)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}

	api.metrics.RecordHTTPRequest("usage", "ok")
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"daily":    record.Daily,
		"monthly":  record.Monthly,
		"limits": map[string]int{
			"daily":   limits.Daily,
			"monthly": limits.Monthly,
		},
	})
}

func (api *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := api.assistant.Settings(r.Context())
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	api.metrics.RecordHTTPRequest("settings", "ok")
	api.writeJSON(w, http.StatusOK, settings)
}

func (api *API) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	if err := api.assistant.SaveSettings(r.Context(), &settings); err != nil {
		api.writeFailure(w, r, err)
		return
	}

	api.metrics.RecordHTTPRequest("settings", "ok")
	api.writeJSON(w, http.StatusOK, settings)
}

type subscriptionRequest struct {
	Tier string `json:"tier"`
}

func (api *API) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	tier := models.Tier(req.Tier)
	switch tier {
	case models.TierFree, models.TierBasic, models.TierPro, models.TierUnlimited:
	default:
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, nil)
		return
	}

	if err := api.assistant.SetSubscription(r.Context(), &models.Subscription{Tier: tier}); err != nil {
		api.writeFailure(w, r, err)
		return
	}

	api.metrics.RecordHTTPRequest("subscription", "ok")
	api.writeJSON(w, http.StatusOK, map[string]string{"tier": string(tier)})
}

func (api *API) handleToggleStealth(w http.ResponseWriter, r *http.Request) {
	api.metrics.RecordHTTPRequest("stealth", "ok")
	api.writeJSON(w, http.StatusOK, map[string]bool{"stealth": api.assistant.ToggleStealth()})
}

// rateLimitMiddleware smooths request bursts per caller address
func (api *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.limiter.Allow(callerKey(r)) {
			api.metrics.RecordRateLimitExceeded()
			api.writeError(w, r, http.StatusTooManyRequests, i18n.MsgRateLimitExceeded, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// language picks the response language from the request, falling back to
// the configured default
func (api *API) language(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	return r.Header.Get("Accept-Language")
}

// writeFailure maps structured domain failures to HTTP statuses
func (api *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *usage.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		msgID := i18n.MsgQuotaDailyExceeded
		if quotaErr.Scope == usage.ScopeMonthly {
			msgID = i18n.MsgQuotaMonthlyExceeded
		}
		api.writeError(w, r, http.StatusTooManyRequests, msgID, map[string]interface{}{
			"Provider": string(quotaErr.Provider),
			"Limit":    strconv.Itoa(quotaErr.Limit),
		})
	case errors.Is(err, llm.ErrNotConfigured):
		api.writeError(w, r, http.StatusPreconditionFailed, i18n.MsgProviderNotConfigured, nil)
	case errors.Is(err, llm.ErrUnsupportedCapability):
		api.writeError(w, r, http.StatusBadRequest, i18n.MsgUnsupportedCapability, nil)
	case errors.Is(err, models.ErrUnknownProvider):
		api.writeError(w, r, http.StatusNotFound, i18n.MsgUnknownProvider, nil)
	default:
		api.logger.WithError(err).Error("Request failed")
		api.writeError(w, r, http.StatusInternalServerError, i18n.MsgInternalError, nil)
	}
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, status int, messageID string, data map[string]interface{}) {
	api.metrics.RecordHTTPRequest(r.URL.Path, strconv.Itoa(status))
	api.writeJSON(w, status, map[string]interface{}{
		"error":   messageID,
		"message": api.localizer.Get(api.language(r), messageID, data),
	})
}

func (api *API) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.WithError(err).Error("Failed to encode response")
	}
}
