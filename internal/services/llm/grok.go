package llm

import (
	"context"
	"fmt"

	"github.com/stealth-assistant-go/internal/models"
)

const grokMockModel = "grok-1-mock"

// sendGrok calls the x.ai chat completions endpoint. The provider carries
// the degrade-to-mock policy: any transport failure is absorbed into a
// synthetic success response instead of an error, so callers never need to
// special-case it.
func (g *Gateway) sendGrok(ctx context.Context, c *client, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	messages := []map[string]string{
		{"role": "system", "content": g.buildSystemPrompt(convCtx)},
	}
	messages = append(messages, g.chatHistory(convCtx.RecentMessages)...)
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": message,
	})

	reqBody := map[string]interface{}{
		"model":       c.chatModel,
		"messages":    messages,
		"max_tokens":  maxOutputTokens,
		"temperature": temperature,
	}

	body, err := g.postJSON(ctx, c.baseURL+"/chat/completions", bearerHeaders(c.apiKey), reqBody)
	if err != nil {
		g.logger.WithError(err).Debug("Grok endpoint unavailable, returning mock response")
		return g.mockGrokResult(message), nil
	}

	result, err := parseOpenAIResponse(body, "Grok", "grok-1")
	if err != nil {
		g.logger.WithError(err).Debug("Grok response unusable, returning mock response")
		return g.mockGrokResult(message), nil
	}

	return result, nil
}

func (g *Gateway) mockGrokResult(message string) *models.LLMResult {
	return &models.LLMResult{
		Response: fmt.Sprintf(`Grok says: "%s" - I understand your request and I'm here to help with a witty and informative response! (Note: This is a mock response as Grok API isn't available yet)`,
			message),
		Provider:  "Grok",
		Model:     grokMockModel,
		Timestamp: timestamp(),
	}
}
