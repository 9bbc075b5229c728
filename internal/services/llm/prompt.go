package llm

import (
	"strings"

	"github.com/stealth-assistant-go/internal/models"
)

const basePersona = `You are a stealth AI assistant designed to help professionals, students, and everyday users. You should be:
- Concise and helpful
- Professional but friendly
- Adaptable to different contexts (work, study, personal)
- Capable of analyzing screens, helping with coding, interview prep, and general tasks
- Discreet and privacy-conscious`

// buildSystemPrompt assembles the system prompt from the base persona plus
// one clause per active context flag. Clauses are additive and appended in
// a fixed order: screenshot, interview, coding, learning.
func (g *Gateway) buildSystemPrompt(convCtx *models.ConversationContext) string {
	var b strings.Builder
	if g.persona != "" {
		b.WriteString(g.persona)
	} else {
		b.WriteString(basePersona)
	}

	if convCtx.Screenshot != "" {
		b.WriteString("\n\nYou have access to a screenshot of the user's screen. Analyze it to provide relevant assistance.")
	}

	switch convCtx.Settings.Mode {
	case models.ModeInterview:
		b.WriteString("\n\nThe user is in interview preparation mode. Focus on interview-related assistance.")
	case models.ModeCoding:
		b.WriteString("\n\nThe user is coding. Focus on programming assistance and code analysis.")
	case models.ModeLearning:
		b.WriteString("\n\nThe user is in learning mode. Focus on educational explanations and concept clarification.")
	}

	return b.String()
}

// recentHistory truncates the transcript to the configured window,
// most-recent-last
func (g *Gateway) recentHistory(messages []models.Message) []models.Message {
	max := g.maxMessages
	if max <= 0 {
		max = 5
	}
	if len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}

// chatRole maps the abstract sender to the user/assistant convention used
// by Anthropic, OpenAI and Grok
func chatRole(sender models.Sender) string {
	if sender == models.SenderUser {
		return "user"
	}
	return "assistant"
}

// geminiRole maps the abstract sender to Gemini's user/model convention
func geminiRole(sender models.Sender) string {
	if sender == models.SenderUser {
		return "user"
	}
	return "model"
}

// chatHistory translates the transcript into role/content maps
func (g *Gateway) chatHistory(messages []models.Message) []map[string]string {
	recent := g.recentHistory(messages)
	history := make([]map[string]string, 0, len(recent))
	for _, msg := range recent {
		history = append(history, map[string]string{
			"role":    chatRole(msg.Sender),
			"content": msg.Content,
		})
	}
	return history
}

// geminiHistory translates the transcript into Gemini content parts
func (g *Gateway) geminiHistory(messages []models.Message) []map[string]interface{} {
	recent := g.recentHistory(messages)
	history := make([]map[string]interface{}, 0, len(recent))
	for _, msg := range recent {
		history = append(history, map[string]interface{}{
			"role": geminiRole(msg.Sender),
			"parts": []map[string]string{
				{"text": msg.Content},
			},
		})
	}
	return history
}
