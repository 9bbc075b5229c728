package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stealth-assistant-go/internal/models"
)

// geminiResponse is the subset of the generateContent response we read
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) geminiURL(c *client, model string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
}

func (g *Gateway) sendGemini(ctx context.Context, c *client, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	contents := g.geminiHistory(convCtx.RecentMessages)

	// Gemini has no separate system field; the prompt is prepended to the
	// final user turn
	contents = append(contents, map[string]interface{}{
		"role": "user",
		"parts": []map[string]string{
			{"text": fmt.Sprintf("%s\n\nUser: %s", g.buildSystemPrompt(convCtx), message)},
		},
	})

	reqBody := map[string]interface{}{
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxOutputTokens,
			"temperature":     temperature,
		},
	}

	body, err := g.postJSON(ctx, g.geminiURL(c, c.chatModel), nil, reqBody)
	if err != nil {
		return nil, err
	}

	return parseGeminiResponse(body, "Gemini", "gemini-pro")
}

func (g *Gateway) analyzeGemini(ctx context.Context, c *client, imageBase64, question string) (*models.LLMResult, error) {
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{"text": question},
					{
						"inline_data": map[string]string{
							"mime_type": "image/png",
							"data":      imageBase64,
						},
					},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxOutputTokens,
			"temperature":     temperature,
		},
	}

	body, err := g.postJSON(ctx, g.geminiURL(c, c.visionModel), nil, reqBody)
	if err != nil {
		return nil, err
	}

	return parseGeminiResponse(body, "Gemini Vision", "")
}

func parseGeminiResponse(body []byte, provider, model string) (*models.LLMResult, error) {
	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return nil, fmt.Errorf("gemini error: %s", result.Error.Message)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	return &models.LLMResult{
		Response:  result.Candidates[0].Content.Parts[0].Text,
		Provider:  provider,
		Model:     model,
		Timestamp: timestamp(),
	}, nil
}
