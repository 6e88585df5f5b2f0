package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wava-studio/wava-gateway/internal/filter"
	"github.com/wava-studio/wava-gateway/internal/recovery"
	"github.com/wava-studio/wava-gateway/internal/store"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// PageLength selects how many sections a detail page gets.
type PageLength string

const (
	LengthAuto     PageLength = "auto"
	LengthShort    PageLength = "short"
	LengthStandard PageLength = "standard"
	LengthLong     PageLength = "long"
)

var sectionCounts = map[PageLength]int{
	LengthAuto:     7,
	LengthShort:    5,
	LengthStandard: 7,
	LengthLong:     9,
}

// SectionCount returns the number of sections for l; unknown lengths plan 7.
func SectionCount(l PageLength) int {
	if n, ok := sectionCounts[l]; ok {
		return n
	}
	return sectionCounts[LengthAuto]
}

type DetailPageInput struct {
	ProductName    string     `json:"product_name"`
	Category       string     `json:"category"`
	Price          *int64     `json:"price,omitempty"`
	PromotionInfo  string     `json:"promotion_info,omitempty"`
	Features       string     `json:"features"`
	TargetAudience []string   `json:"target_audience"`
	Images         []Image    `json:"images,omitempty"`
	PageLength     PageLength `json:"page_length"`
}

type Section struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	KeyMessage   string `json:"keyMessage"`
	VisualPrompt string `json:"visualPrompt"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Order        int    `json:"order"`
}

type DetailPagePlan struct {
	Sections      []Section `json:"sections"`
	TotalSections int       `json:"totalSections"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProgressStatus values reported while rendering detail images.
const (
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

type Progress struct {
	Current int      `json:"current"`
	Total   int      `json:"total"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Section *Section `json:"section,omitempty"`
}

// PlanDetailPage asks the text model for an ordered section plan.
func (s *Service) PlanDetailPage(ctx context.Context, c Caller, in DetailPageInput) (plan *DetailPagePlan, err error) {
	started := time.Now()
	defer func() { s.finish(NameDetailPlan, started, err) }()

	if err := s.requireGemini(c); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ProductName) == "" {
		return nil, &InputError{Field: "product_name", Message: "Enter the product name."}
	}
	if in.PageLength == "" {
		in.PageLength = LengthAuto
	}
	if _, ok := sectionCounts[in.PageLength]; !ok {
		return nil, &InputError{Field: "page_length", Message: fmt.Sprintf("Unknown page length %q. Use auto, short, standard or long.", in.PageLength)}
	}
	texts := nonEmpty(in.ProductName, in.Category, in.PromotionInfo, in.Features)
	texts = append(texts, nonEmpty(in.TargetAudience...)...)
	if err := s.screen(ctx, &filter.Subject{
		Workflow: NameDetailPlan,
		Texts:    texts,
		HasImage: len(in.Images) > 0,
		Client:   c.Client,
	}); err != nil {
		return nil, err
	}

	parts := []types.Part{types.TextPart(planRequest(&in))}
	if len(in.Images) > 0 {
		parts = append(parts, in.Images[0].part())
	}
	raw, err := s.text.Generate(ctx, c.GeminiKey, &types.GenerationRequest{
		Contents:          []types.Content{types.UserContent(parts...)},
		SystemInstruction: planInstruction(SectionCount(in.PageLength)),
		Options:           types.GenerateOptions{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Sections []Section `json:"sections"`
	}
	layer, err := recovery.DecodeInto(raw, "sections", &payload)
	if err != nil {
		s.logger.Warn("detail plan not recoverable", "response_chars", len(raw), "error", err)
		return nil, err
	}
	if len(payload.Sections) == 0 {
		return nil, &recovery.ParseError{Field: "sections", Reason: "is empty"}
	}
	s.logger.Debug("detail plan decoded", "layer", layer, "sections", len(payload.Sections))

	sections := make([]Section, len(payload.Sections))
	for i, sec := range payload.Sections {
		sections[i] = Section{
			ID:           fmt.Sprintf("section-%d", i+1),
			Title:        sec.Title,
			KeyMessage:   sec.KeyMessage,
			VisualPrompt: sec.VisualPrompt,
			Order:        i + 1,
		}
	}
	plan = &DetailPagePlan{
		Sections:      sections,
		TotalSections: len(sections),
		CreatedAt:     s.now().UTC(),
	}
	s.record(ctx, &store.Entry{
		Workflow:    NameDetailPlan,
		Client:      c.Client,
		ProductName: in.ProductName,
		Detail:      mustJSON(plan),
		CreatedAt:   plan.CreatedAt,
	})
	return plan, nil
}

// FeaturesError wraps any failure to suggest features with a single message.
type FeaturesError struct {
	Err error
}

func (e *FeaturesError) Error() string { return "suggest features: " + e.Err.Error() }
func (e *FeaturesError) Unwrap() error { return e.Err }

func (e *FeaturesError) UserMessage() string {
	var mc *MissingCredentialError
	if errors.As(e.Err, &mc) {
		return mc.UserMessage()
	}
	return "Feature suggestions failed. " + types.UserMessage(e.Err)
}

// SuggestFeatures drafts a selling-point paragraph from a product name.
func (s *Service) SuggestFeatures(ctx context.Context, c Caller, productName string) (text string, err error) {
	started := time.Now()
	defer func() { s.finish(NameFeatures, started, err) }()

	if err := s.requireGemini(c); err != nil {
		return "", &FeaturesError{Err: err}
	}
	if strings.TrimSpace(productName) == "" {
		return "", &InputError{Field: "product_name", Message: "Enter the product name."}
	}
	if err := s.screen(ctx, &filter.Subject{
		Workflow: NameFeatures,
		Texts:    []string{productName},
		Client:   c.Client,
	}); err != nil {
		return "", err
	}

	raw, err := s.text.Generate(ctx, c.GeminiKey, &types.GenerationRequest{
		Contents:          []types.Content{types.UserContent(types.TextPart(featuresRequest(productName)))},
		SystemInstruction: featuresInstruction,
	})
	if err != nil {
		return "", &FeaturesError{Err: err}
	}
	return strings.TrimSpace(raw), nil
}

// RenderDetailImages renders each section in order. The first failure stops
// the run; the sections finished so far are returned with the error.
func (s *Service) RenderDetailImages(ctx context.Context, c Caller, productName string, sections []Section, progress func(Progress)) (done []Section, err error) {
	started := time.Now()
	defer func() { s.finish(NameDetailImages, started, err) }()
	if progress == nil {
		progress = func(Progress) {}
	}
	total := len(sections)

	fail := func(err error) ([]Section, error) {
		progress(Progress{Current: len(done), Total: total, Status: StatusError, Message: types.UserMessage(err)})
		return done, err
	}

	if err := s.requireReplicate(c); err != nil {
		return fail(err)
	}
	if total == 0 {
		return fail(&InputError{Field: "sections", Message: "Add at least one section before generating images."})
	}
	texts := []string{productName}
	for _, sec := range sections {
		texts = append(texts, sec.VisualPrompt)
	}
	if err := s.screen(ctx, &filter.Subject{
		Workflow: NameDetailImages,
		Texts:    nonEmpty(texts...),
		Client:   c.Client,
	}); err != nil {
		return fail(err)
	}

	renderer := s.renderers(c.ReplicateToken)
	progress(Progress{Total: total, Status: StatusGenerating, Message: "Starting image generation."})
	for i, sec := range sections {
		progress(Progress{
			Current: i + 1,
			Total:   total,
			Status:  StatusGenerating,
			Message: fmt.Sprintf("Rendering %s (%d/%d)", sec.Title, i+1, total),
		})
		url, err := renderer.RenderStandard(ctx, SectionPrompt(productName, sec.VisualPrompt), 0, 0)
		if err != nil {
			s.logger.Warn("section render failed", "section", sec.ID, "error", err)
			return fail(err)
		}
		sec.ImageURL = url
		done = append(done, sec)
		progress(Progress{Current: i + 1, Total: total, Status: StatusGenerating, Section: &sec})
	}

	progress(Progress{Current: total, Total: total, Status: StatusCompleted, Message: "All images are ready."})
	s.record(ctx, &store.Entry{
		Workflow:    NameDetailImages,
		Client:      c.Client,
		ProductName: productName,
		Model:       "standard",
		Detail:      mustJSON(done),
		CreatedAt:   s.now().UTC(),
	})
	return done, nil
}
