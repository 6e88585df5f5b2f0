package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wava-studio/wava-gateway/internal/filter"
	"github.com/wava-studio/wava-gateway/internal/recovery"
	"github.com/wava-studio/wava-gateway/internal/store"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// Style is the look requested for a thumbnail.
type Style string

const (
	StyleClean     Style = "clean"
	StyleLifestyle Style = "lifestyle"
	StyleCreative  Style = "creative"
)

// defaultThumbnailSize matches the standard image model's default edge.
const defaultThumbnailSize = 1024

func (s Style) valid() bool {
	switch s {
	case StyleClean, StyleLifestyle, StyleCreative:
		return true
	}
	return false
}

type ThumbnailInput struct {
	MainCopy          string `json:"main_copy"`
	Style             Style  `json:"style"`
	AdditionalRequest string `json:"additional_request,omitempty"`
	AspectRatio       string `json:"aspect_ratio,omitempty"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Image             *Image `json:"image,omitempty"`
}

func (in *ThumbnailInput) validate() error {
	if strings.TrimSpace(in.MainCopy) == "" && in.Image == nil {
		return &InputError{Field: "main_copy", Message: "Enter the main copy or attach a product image."}
	}
	if in.Style == "" {
		in.Style = StyleClean
	}
	if !in.Style.valid() {
		return &InputError{Field: "style", Message: fmt.Sprintf("Unknown style %q. Use clean, lifestyle or creative.", in.Style)}
	}
	if in.Width < 0 || in.Height < 0 {
		return &InputError{Field: "size", Message: "Width and height must be positive."}
	}
	// A missing edge copies the other one, so the prompt and the render
	// agree on the size.
	switch {
	case in.Width == 0 && in.Height == 0:
		in.Width, in.Height = defaultThumbnailSize, defaultThumbnailSize
	case in.Width == 0:
		in.Width = in.Height
	case in.Height == 0:
		in.Height = in.Width
	}
	if in.Image != nil && (in.Image.Data == "" || in.Image.MimeType == "") {
		return &InputError{Field: "image", Message: "The attached image is empty."}
	}
	if in.AspectRatio == "" {
		in.AspectRatio = "custom"
	}
	return nil
}

type ThumbnailResult struct {
	ImageURL  string    `json:"image_url"`
	Prompt    string    `json:"prompt"`
	Rationale string    `json:"rationale"`
	Recipe    string    `json:"recipe"`
	CreatedAt time.Time `json:"created_at"`
}

const noRationale = "No rationale was returned."

var thumbnailFields = []recovery.Field{
	{Name: "prompt", Required: true, MinLength: recovery.DefaultMinLength},
	{Name: "rationale", Aliases: []string{"reasoning"}},
}

// Thumbnail plans a prompt with the text model and renders it. With a
// reference image the edge-guided recipe keeps the product's outline.
func (s *Service) Thumbnail(ctx context.Context, c Caller, in ThumbnailInput) (res *ThumbnailResult, err error) {
	started := time.Now()
	defer func() { s.finish(NameThumbnail, started, err) }()

	if err := s.requireReplicate(c); err != nil {
		return nil, err
	}
	if err := s.requireGemini(c); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.screen(ctx, &filter.Subject{
		Workflow: NameThumbnail,
		Texts:    nonEmpty(in.MainCopy, in.AdditionalRequest),
		HasImage: in.Image != nil,
		Client:   c.Client,
	}); err != nil {
		return nil, err
	}

	parts := []types.Part{types.TextPart(thumbnailRequest(&in))}
	if in.Image != nil {
		parts = append(parts, in.Image.part())
	}
	raw, err := s.text.Generate(ctx, c.GeminiKey, &types.GenerationRequest{
		Contents:          []types.Content{types.UserContent(parts...)},
		SystemInstruction: thumbnailInstruction(in.Style),
		ResponseSchema:    thumbnailSchema,
		Options:           types.GenerateOptions{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := recovery.New("prompt", s.logger).Parse(raw, thumbnailFields...)
	if err != nil {
		s.logger.Warn("thumbnail prompt not recoverable", "response_chars", len(raw), "error", err)
		return nil, err
	}
	prompt := parsed.Get("prompt")
	rationale := parsed.Get("rationale")
	if rationale == "" {
		rationale = noRationale
	}

	clean := SanitizePrompt(prompt)
	renderer := s.renderers(c.ReplicateToken)
	recipe := "standard"
	var url string
	if in.Image != nil {
		recipe = "controlnet"
		url, err = renderer.RenderControlNet(ctx, in.Image.DataURI(), clean, in.Width, in.Height)
	} else {
		url, err = renderer.RenderStandard(ctx, clean, in.Width, in.Height)
	}
	if err != nil {
		return nil, err
	}

	res = &ThumbnailResult{
		ImageURL:  url,
		Prompt:    prompt,
		Rationale: rationale,
		Recipe:    recipe,
		CreatedAt: s.now().UTC(),
	}
	s.record(ctx, &store.Entry{
		Workflow:    NameThumbnail,
		Client:      c.Client,
		ProductName: in.MainCopy,
		Model:       recipe,
		Prompt:      prompt,
		Rationale:   rationale,
		ImageURL:    url,
		CreatedAt:   res.CreatedAt,
	})
	return res, nil
}

func nonEmpty(texts ...string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
