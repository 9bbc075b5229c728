package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stealth-assistant-go/internal/models"
)

const anthropicVersion = "2023-06-01"

func (c *client) anthropicHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// claudeResponse is the subset of the Anthropic messages response we read
type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage map[string]interface{} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) sendClaude(ctx context.Context, c *client, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	messages := g.chatHistory(convCtx.RecentMessages)
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": message,
	})

	reqBody := map[string]interface{}{
		"model":      c.chatModel,
		"max_tokens": maxOutputTokens,
		"system":     g.buildSystemPrompt(convCtx),
		"messages":   messages,
	}

	body, err := g.postJSON(ctx, c.baseURL+"/v1/messages", c.anthropicHeaders(), reqBody)
	if err != nil {
		return nil, err
	}

	return parseClaudeResponse(body, "Claude", "claude-3-sonnet")
}

func (g *Gateway) analyzeClaude(ctx context.Context, c *client, imageBase64, question string) (*models.LLMResult, error) {
	reqBody := map[string]interface{}{
		"model":      c.visionModel,
		"max_tokens": maxOutputTokens,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": question,
					},
					{
						"type": "image",
						"source": map[string]string{
							"type":       "base64",
							"media_type": "image/png",
							"data":       imageBase64,
						},
					},
				},
			},
		},
	}

	body, err := g.postJSON(ctx, c.baseURL+"/v1/messages", c.anthropicHeaders(), reqBody)
	if err != nil {
		return nil, err
	}

	return parseClaudeResponse(body, "Claude", "")
}

func parseClaudeResponse(body []byte, provider, model string) (*models.LLMResult, error) {
	var result claudeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return nil, fmt.Errorf("claude error: %s", result.Error.Message)
	}

	if len(result.Content) == 0 || result.Content[0].Text == "" {
		return nil, fmt.Errorf("no response from claude")
	}

	return &models.LLMResult{
		Response:  result.Content[0].Text,
		Provider:  provider,
		Model:     model,
		Timestamp: timestamp(),
		Usage:     result.Usage,
	}, nil
}
