package types

// GenerationRequest is the canonical representation of a text-generation call.
// It is built once per call and reused unchanged for every model in the fallback queue.
type GenerationRequest struct {
	Contents          []Content       `json:"contents"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	ResponseSchema    map[string]any  `json:"response_schema,omitempty"`
	Options           GenerateOptions `json:"options,omitempty"`
}

// GenerateOptions carries per-call overrides.
type GenerateOptions struct {
	ModelQueue       []string `json:"model_queue,omitempty"`
	ResponseMIMEType string   `json:"response_mime_type,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either inline text or inline binary data. Exactly one field is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func InlinePart(mimeType, base64Data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: base64Data}}
}

func UserContent(parts ...Part) Content {
	return Content{Role: "user", Parts: parts}
}

// Texts returns every text part of the request, system instruction first.
func (r *GenerationRequest) Texts() []string {
	var out []string
	if r.SystemInstruction != "" {
		out = append(out, r.SystemInstruction)
	}
	for _, c := range r.Contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}

// GenerationConfig holds the sampling and output-shape parameters for one model call.
type GenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"topP"`
	TopK             int            `json:"topK"`
	MaxOutputTokens  int            `json:"maxOutputTokens"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

// ModelCall is one attempt's worth of input for a text backend.
type ModelCall struct {
	Model             string
	Contents          []Content
	SystemInstruction string
	Config            GenerationConfig
}
