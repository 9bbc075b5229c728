package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stealth-assistant-go/internal/models"
)

func bearerHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + apiKey,
	}
}

// openAIResponse is the subset of the chat completions response we read.
// Grok's API follows the same schema.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) sendGPT(ctx context.Context, c *client, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
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
		return nil, err
	}

	return parseOpenAIResponse(body, "GPT-4", "gpt-4-turbo")
}

func (g *Gateway) analyzeGPT(ctx context.Context, c *client, imageBase64, question string) (*models.LLMResult, error) {
	reqBody := map[string]interface{}{
		"model": c.visionModel,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": question,
					},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url": "data:image/png;base64," + imageBase64,
						},
					},
				},
			},
		},
		"max_tokens": maxOutputTokens,
	}

	body, err := g.postJSON(ctx, c.baseURL+"/chat/completions", bearerHeaders(c.apiKey), reqBody)
	if err != nil {
		return nil, err
	}

	return parseOpenAIResponse(body, "GPT-4 Vision", "")
}

func parseOpenAIResponse(body []byte, provider, model string) (*models.LLMResult, error) {
	var result openAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return nil, fmt.Errorf("vendor error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("no response choices")
	}

	return &models.LLMResult{
		Response:  result.Choices[0].Message.Content,
		Provider:  provider,
		Model:     model,
		Timestamp: timestamp(),
		Usage:     result.Usage,
	}, nil
}
