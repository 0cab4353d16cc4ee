// Package gemini is a minimal client for the generative-language
// generateContent API with function calling and structured JSON output.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client calls the generateContent endpoint for a fixed model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests point this at httptest).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given key and model.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateContent performs one non-streaming model call.
func (c *Client) GenerateContent(ctx context.Context, req *Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("gemini: api key missing")
	}

	wireReq := c.buildRequest(req)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	return parseResult(respBody)
}

func (c *Client) buildRequest(req *Request) *generateContentRequest {
	out := &generateContentRequest{}

	if req.SystemInstruction != "" {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}

	for _, m := range req.Messages {
		role := m.Role
		if role != "user" && role != "model" {
			role = "user"
		}
		out.Contents = append(out.Contents, wireContent{
			Role:  role,
			Parts: []wirePart{{Text: m.Text}},
		})
	}

	if len(req.Tools) > 0 {
		var decls []wireFunctionDecl
		for _, t := range req.Tools {
			params, _ := json.Marshal(t.Parameters)
			decls = append(decls, wireFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		out.Tools = []wireTool{{FunctionDeclarations: decls}}
	}

	if req.ResponseSchema != nil {
		schema, _ := json.Marshal(req.ResponseSchema)
		out.GenerationConfig = &genConfig{
			ResponseMIMEType:   "application/json",
			ResponseJSONSchema: schema,
		}
	}

	return out
}

func parseResult(body []byte) (*Result, error) {
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	res := &Result{}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			res.FunctionCalls = append(res.FunctionCalls, FunctionCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	res.Text = strings.TrimSpace(text.String())
	return res, nil
}
