package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/samsaffron/term-agent/internal/llm"
)

// Session is one conversation between restarts.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	CWD       string    `json:"cwd,omitempty"`
	Summary   string    `json:"summary,omitempty"` // first user message
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a stored history entry. Parts keeps the llm.Message parts as
// JSON so tool calls and results survive exactly.
type Message struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Role        llm.Role   `json:"role"`
	Parts       []llm.Part `json:"parts"`
	TextContent string     `json:"text_content"` // extracted text for display and search
	CreatedAt   time.Time  `json:"created_at"`
	Sequence    int        `json:"sequence"`
}

// Summary is a lightweight view of a session for listing.
type Summary struct {
	Session
	MessageCount int `json:"message_count"`
}

// SearchResult is one full-text match.
type SearchResult struct {
	SessionID string    `json:"session_id"`
	MessageID int64     `json:"message_id"`
	Summary   string    `json:"summary"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

func newMessage(sessionID string, msg llm.Message) *Message {
	m := &Message{
		SessionID: sessionID,
		Role:      msg.Role,
		Parts:     msg.Parts,
		CreatedAt: time.Now(),
	}
	m.TextContent = m.extractText()
	return m
}

func (m *Message) extractText() string {
	var texts []string
	for _, p := range m.Parts {
		switch {
		case p.Type == llm.PartText && p.Text != "":
			texts = append(texts, p.Text)
		case p.Type == llm.PartToolResult && p.ToolResult != nil:
			texts = append(texts, p.ToolResult.Content)
		}
	}
	return strings.Join(texts, "\n")
}

// LLMMessage converts m back to a history entry.
func (m *Message) LLMMessage() llm.Message {
	return llm.Message{Role: m.Role, Parts: m.Parts}
}

func (m *Message) partsJSON() (string, error) {
	data, err := json.Marshal(m.Parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Message) setPartsJSON(data string) error {
	if data == "" {
		m.Parts = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.Parts)
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
