package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/genai"
)

// Dialect selects the URL and body shape used for streaming requests.
type Dialect string

const (
	// DialectCodeAssist posts to {base}/v1internal:streamGenerateContent and
	// wraps the request in a {model, project, request} envelope.
	DialectCodeAssist Dialect = "code-assist"
	// DialectGemini posts to {base}/v1beta/models/{model}:streamGenerateContent.
	DialectGemini Dialect = "gemini"

	DefaultCodeAssistURL = "https://cloudcode-pa.googleapis.com"
	DefaultGeminiURL     = "https://generativelanguage.googleapis.com"
)

// ParseDialect maps a config string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectCodeAssist, "":
		return DialectCodeAssist, nil
	case DialectGemini:
		return DialectGemini, nil
	}
	return "", fmt.Errorf("unknown remote dialect %q (want code-assist or gemini)", s)
}

// GeminiConfig holds endpoint settings for GeminiCaller.
type GeminiConfig struct {
	Dialect Dialect
	BaseURL string
	Model   string
	Project string // code-assist only
	APIKey  string // gemini only; sent as x-goog-api-key
}

// GeminiCaller streams turns from a Gemini-compatible endpoint. Every request
// goes through the retry gate and every response through the stream decoder.
type GeminiCaller struct {
	config GeminiConfig
	tokens oauth2.TokenSource
	gate   *RetryGate
	log    zerolog.Logger
}

// NewGeminiCaller builds a caller. tokens may be nil when an API key is used.
func NewGeminiCaller(config GeminiConfig, tokens oauth2.TokenSource, gate *RetryGate, log zerolog.Logger) *GeminiCaller {
	if config.BaseURL == "" {
		if config.Dialect == DialectGemini {
			config.BaseURL = DefaultGeminiURL
		} else {
			config.BaseURL = DefaultCodeAssistURL
		}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &GeminiCaller{config: config, tokens: tokens, gate: gate, log: log}
}

func (c *GeminiCaller) Model() string {
	return c.config.Model
}

type codeAssistRequest struct {
	Model        string          `json:"model"`
	Project      string          `json:"project,omitempty"`
	UserPromptID string          `json:"user_prompt_id"`
	Request      generateRequest `json:"request"`
}

type generateRequest struct {
	Contents  []*genai.Content `json:"contents"`
	Tools     []*genai.Tool    `json:"tools,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// Stream sends req and returns its decoded fragments.
func (c *GeminiCaller) Stream(ctx context.Context, req Request) (FragmentStream, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	contents := BuildContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no content to send")
	}

	inner := generateRequest{
		Contents: contents,
		Tools:    buildTools(req.Tools),
	}

	var (
		url  string
		body any
	)
	switch c.config.Dialect {
	case DialectGemini:
		url = fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.config.BaseURL, model)
		body = inner
	default:
		url = fmt.Sprintf("%s/v1internal:streamGenerateContent?alt=sse", c.config.BaseURL)
		inner.SessionID = req.SessionID
		body = codeAssistRequest{
			Model:        model,
			Project:      c.config.Project,
			UserPromptID: uuid.NewString(),
			Request:      inner,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		header.Set("x-goog-api-key", c.config.APIKey)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("get access token: %w", err)
		}
		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	c.log.Debug().
		Str("model", model).
		Str("dialect", string(c.config.Dialect)).
		Int("contents", len(contents)).
		Int("tools", len(req.Tools)).
		Msg("streamGenerateContent")

	resp, err := c.gate.Do(ctx, Call{Method: http.MethodPost, URL: url, Header: header, Body: payload})
	if err != nil {
		return nil, fmt.Errorf("streamGenerateContent request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return NewDecoder(ctx, resp.Body, c.log), nil
}

// BuildContents converts history into Gemini contents. Consecutive entries
// that map to the same role are merged into one content block, which keeps
// function responses for a turn together as the API requires.
func BuildContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := string(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if part := buildPart(p); part != nil {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func buildPart(p Part) *genai.Part {
	switch p.Type {
	case PartText:
		if p.Text == "" {
			return nil
		}
		return &genai.Part{Text: p.Text}
	case PartToolCall:
		if p.ToolCall == nil {
			return nil
		}
		args := p.ToolCall.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   p.ToolCall.ID,
				Name: p.ToolCall.Name,
				Args: args,
			},
			ThoughtSignature: p.ToolCall.ThoughtSig,
		}
	case PartToolResult:
		if p.ToolResult == nil {
			return nil
		}
		key := "output"
		if p.ToolResult.IsError {
			key = "error"
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       p.ToolResult.ID,
			Name:     p.ToolResult.Name,
			Response: map[string]any{key: p.ToolResult.Content},
		}}
	}
	return nil
}

func buildTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decl := &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if len(spec.Schema) > 0 {
			decl.ParametersJsonSchema = spec.Schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
