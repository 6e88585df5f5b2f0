// Package recovery extracts structured fields from model output that is only
// sometimes valid JSON.
package recovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wava-studio/wava-gateway/internal/types"
)

// DefaultMinLength is the shortest primary field value accepted by workflows.
const DefaultMinLength = 20

// Layer names the recovery stage that produced a result.
type Layer string

const (
	LayerFence     Layer = "fence"
	LayerSubstring Layer = "substring"
	LayerField     Layer = "field"
)

var (
	fenceOpenRe  = regexp.MustCompile("(?i)```json\\s*")
	fenceCloseRe = regexp.MustCompile("```")
)

// Field describes one string field the caller wants back.
type Field struct {
	Name      string
	Aliases   []string
	Required  bool
	MinLength int
}

func (f Field) names() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// Result holds the recovered values keyed by canonical field name.
type Result struct {
	Values map[string]string
	Layer  Layer
	// Object is the decoded document when a full JSON parse succeeded.
	Object map[string]any
}

// Get returns the recovered value for name, or "".
func (r *Result) Get(name string) string {
	if r == nil {
		return ""
	}
	return r.Values[name]
}

// ParseError reports that a required field could not be recovered.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: field %q %s", e.Field, e.Reason)
}

func (e *ParseError) Kind() types.ErrorKind { return types.KindParseFailure }

// Parser runs the layered recovery. Marker is the key whose presence identifies
// the payload object inside surrounding prose (layer 2).
type Parser struct {
	Marker string
	Logger *slog.Logger
}

// New creates a parser that looks for marker when carving a JSON object out of prose.
func New(marker string, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{Marker: marker, Logger: logger}
}

// Parse recovers fields from raw. The first layer that yields a JSON object wins;
// when none does, each field is pulled out individually by pattern. The raw text
// is never returned as a field value.
func (p *Parser) Parse(raw string, fields ...Field) (*Result, error) {
	cleaned := StripCodeFences(raw)

	res := &Result{Values: make(map[string]string, len(fields))}
	if layer, doc, ok := p.decode(cleaned); ok {
		res.Layer = layer
		res.Object = doc.object
		for _, f := range fields {
			for _, name := range f.names() {
				v := doc.json.Get(name)
				if v.Exists() && v.Type != gjson.Null && v.String() != "" {
					res.Values[f.Name] = v.String()
					break
				}
			}
		}
	} else {
		res.Layer = LayerField
		for _, f := range fields {
			for _, name := range f.names() {
				if v, ok := ExtractStringField(cleaned, name); ok && v != "" {
					res.Values[f.Name] = v
					break
				}
			}
		}
		p.Logger.Debug("json recovery fell back to field extraction",
			"marker", p.Marker,
			"recovered", len(res.Values),
		)
	}

	for _, f := range fields {
		v, ok := res.Values[f.Name]
		switch {
		case f.Required && !ok:
			return nil, &ParseError{Field: f.Name, Reason: "missing"}
		case ok && f.MinLength > 0 && len([]rune(v)) < f.MinLength:
			if f.Required {
				return nil, &ParseError{Field: f.Name, Reason: fmt.Sprintf("shorter than %d characters", f.MinLength)}
			}
			delete(res.Values, f.Name)
		}
	}
	return res, nil
}

type decoded struct {
	json   gjson.Result
	object map[string]any
}

// decode tries layer 1 (the fence-stripped text) then layer 2 (the marker span).
func (p *Parser) decode(cleaned string) (Layer, decoded, bool) {
	if d, ok := decodeObject(cleaned); ok {
		return LayerFence, d, true
	}
	if chunk, ok := ExtractObject(cleaned, p.Marker); ok {
		if d, ok := decodeObject(chunk); ok {
			return LayerSubstring, d, true
		}
	}
	return "", decoded{}, false
}

func decodeObject(s string) (decoded, bool) {
	if !gjson.Valid(s) {
		return decoded{}, false
	}
	r := gjson.Parse(s)
	if !r.IsObject() {
		return decoded{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return decoded{}, false
	}
	return decoded{json: r, object: obj}, true
}

// DecodeInto unmarshals the payload object of raw into dst using layers 1 and 2.
// Callers that need arrays or nested objects use this instead of Parse.
func DecodeInto(raw, marker string, dst any) (Layer, error) {
	cleaned := StripCodeFences(raw)
	layer := LayerFence
	candidate := cleaned
	if !gjson.Valid(candidate) {
		chunk, ok := ExtractObject(cleaned, marker)
		if !ok || !gjson.Valid(chunk) {
			return "", &ParseError{Field: marker, Reason: "not found in a JSON object"}
		}
		layer, candidate = LayerSubstring, chunk
	}
	if err := json.Unmarshal([]byte(candidate), dst); err != nil {
		return "", &ParseError{Field: marker, Reason: "has an unexpected shape: " + err.Error()}
	}
	return layer, nil
}

// StripCodeFences removes markdown code fences and surrounding whitespace.
func StripCodeFences(text string) string {
	text = fenceOpenRe.ReplaceAllString(text, "")
	text = fenceCloseRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractObject returns the widest {...} span that mentions "marker".
func ExtractObject(text, marker string) (string, bool) {
	re, err := regexp.Compile(`(?s)\{.*"` + regexp.QuoteMeta(marker) + `".*\}`)
	if err != nil {
		return "", false
	}
	m := re.FindString(text)
	return m, m != ""
}

// ExtractStringField pulls a string value for key out of text that is not valid JSON.
func ExtractStringField(text, key string) (string, bool) {
	re, err := regexp.Compile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*"(.*?)"\s*(,|\})`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return unescape(m[1]), true
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)

func unescape(s string) string {
	return unescaper.Replace(s)
}
