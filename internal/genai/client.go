// Package genai calls the generative-AI service that produces career
// roadmaps, tutor replies, and lab challenges. To the session core this is
// just another remote call: API-key auth, bounded timeout, ordinary
// network-failure handling, no refresh semantics.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillpath-ai/skillpath-go/internal/api"
	"github.com/skillpath-ai/skillpath-go/internal/config"
)

// Chat roles as the generative API expects them.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage is one turn in a tutor conversation.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatMessage builds a message with a fresh id and the current time.
func NewChatMessage(role, text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// LabChallenge is a generated coding exercise for the skill lab.
type LabChallenge struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StarterCode string `json:"starterCode"`
}

// tutorSystemPrompt fixes the tutor persona across conversations.
const tutorSystemPrompt = "You are an expert technical mentor and career coach named 'SkillPath Bot'. " +
	"You provide concise, encouraging, and technically accurate advice. You prefer practical examples. " +
	"Keep responses under 200 words unless asked for deep detail."

// Client talks to the generative-AI endpoint.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

// New creates a generative-AI client. Returns an error when no API key is
// configured, since every call would fail anyway.
func New(cfg config.GenAIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai api key is not configured (set SKILLPATH_GENAI_API_KEY)")
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

// GenerateRoadmap asks the model for a learning roadmap toward careerGoal.
// The response must match the fixed roadmap schema; anything else is an
// error, never a partially applied document.
func (c *Client) GenerateRoadmap(ctx context.Context, careerGoal string) (*api.Roadmap, error) {
	prompt := fmt.Sprintf(`Create a detailed learning roadmap for becoming a %q.
The response must be a strictly formatted JSON object matching the schema.
Include 5-7 distinct modules (nodes) ordered sequentially.
Ensure 'estimatedHours' is realistic.
The status of the first node should be 'active', others 'locked'.`, careerGoal)

	text, err := c.generate(ctx, "", []content{userContent(prompt)}, true)
	if err != nil {
		return nil, err
	}

	var roadmap api.Roadmap
	if err := json.Unmarshal([]byte(text), &roadmap); err != nil {
		return nil, fmt.Errorf("model returned malformed roadmap: %w", err)
	}
	if len(roadmap.Nodes) == 0 {
		return nil, fmt.Errorf("model returned roadmap with no nodes")
	}
	return &roadmap, nil
}

// Chat sends message in the context of history and returns the tutor reply.
func (c *Client) Chat(ctx context.Context, history []ChatMessage, message string) (string, error) {
	contents := make([]content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, content{Role: m.Role, Parts: []part{{Text: m.Text}}})
	}
	contents = append(contents, userContent(message))

	text, err := c.generate(ctx, tutorSystemPrompt, contents, false)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("model returned empty reply")
	}
	return text, nil
}

// GenerateLabChallenge asks the model for a coding challenge about topic.
func (c *Client) GenerateLabChallenge(ctx context.Context, topic string) (*LabChallenge, error) {
	prompt := fmt.Sprintf(`Create a beginner-to-intermediate coding challenge about %q.
Return JSON with title, description, and a starter code snippet (in Python or JavaScript).`, topic)

	text, err := c.generate(ctx, "", []content{userContent(prompt)}, true)
	if err != nil {
		return nil, err
	}

	var lab LabChallenge
	if err := json.Unmarshal([]byte(text), &lab); err != nil {
		return nil, fmt.Errorf("model returned malformed lab challenge: %w", err)
	}
	return &lab, nil
}

// Wire types for the generateContent call.

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

func userContent(text string) content {
	return content{Role: RoleUser, Parts: []part{{Text: text}}}
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// generate performs one generateContent call and returns the first
// candidate's concatenated text.
func (c *Client) generate(ctx context.Context, system string, contents []content, wantJSON bool) (string, error) {
	reqBody := generateRequest{Contents: contents}
	if system != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	if wantJSON {
		reqBody.GenerationConfig = &generationConfig{ResponseMIMEType: "application/json"}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generative service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if genResp.Error != nil {
			return "", fmt.Errorf("generative service returned %d: %s", resp.StatusCode, genResp.Error.Message)
		}
		return "", fmt.Errorf("generative service returned %d", resp.StatusCode)
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	var sb strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
