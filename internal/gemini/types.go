package gemini

import "encoding/json"

// Wire types for the generateContent endpoint. The API uses camelCase field
// names throughout.

type generateContentRequest struct {
	Contents          []wireContent `json:"contents"`
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	Tools             []wireTool    `json:"tools,omitempty"`
	GenerationConfig  *genConfig    `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"` // "user", "model"
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text         string            `json:"text,omitempty"`
	FunctionCall *wireFunctionCall `json:"functionCall,omitempty"`
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations,omitempty"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type genConfig struct {
	Temperature        *float64        `json:"temperature,omitempty"`
	MaxOutputTokens    *int            `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType   string          `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
}

// Message is one role-tagged conversation turn. Role is "user" or "model".
type Message struct {
	Role string
	Text string
}

// FunctionCall is one tool invocation decided by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// Schema is a JSON-schema fragment for tool parameters or structured output.
// Only the subset the API accepts: no $ref, no additionalProperties.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// FunctionDeclaration describes one callable tool exposed to the model.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Request is one generateContent call.
type Request struct {
	SystemInstruction string
	Messages          []Message
	Tools             []FunctionDeclaration
	// ResponseSchema switches the call to structured JSON output.
	ResponseSchema *Schema
}

// Result carries the model's free text and its ordered function calls.
type Result struct {
	Text          string
	FunctionCalls []FunctionCall
}
