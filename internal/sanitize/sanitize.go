// Package sanitize validates and cleans raw term rows received from the
// remote backend or dropped into the daemon inbox.
//
// Malformed rows are skipped, never reported as errors. Only a top-level
// payload that is not a list fails, with ErrInvalidFormat.
package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/ecoterms/ecosync/internal/schema"
)

const (
	MaxTitleLen      = 100
	MaxDefinitionLen = 2000
	MaxCategoryLen   = 30

	// TruncationMarker is appended to definitions cut at MaxDefinitionLen.
	TruncationMarker = "..."

	// DefaultCategory is used when a row has no category.
	DefaultCategory = "General"
)

// ErrInvalidFormat is returned when the payload is not a list of rows.
var ErrInvalidFormat = errors.New("invalid format: data must be a list")

var tagPattern = regexp.MustCompile(`<[^>]*>?`)

// DropFunc receives the number of rows skipped by one Sanitize call.
type DropFunc func(dropped int)

// Option configures a Sanitize call.
type Option func(*options)

type options struct {
	onDrop DropFunc
}

// WithDropHook reports how many rows were skipped. Output is unaffected.
func WithDropHook(fn DropFunc) Option {
	return func(o *options) { o.onDrop = fn }
}

// Sanitize cleans raw, which must be a slice or array of rows. Each row is
// a map with a title ("t" or "title"), definition ("d" or "definition"),
// category ("c" or "category") and optional tombstone ("deleted_at" or
// "deletedAt"). Order is preserved.
func Sanitize(raw any, opts ...Option) ([]schema.Term, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := reflect.ValueOf(raw)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return nil, ErrInvalidFormat
	}

	terms := make([]schema.Term, 0, v.Len())
	dropped := 0
	for i := 0; i < v.Len(); i++ {
		term, ok := sanitizeRow(v.Index(i).Interface())
		if !ok {
			dropped++
			continue
		}
		terms = append(terms, term)
	}

	if o.onDrop != nil && dropped > 0 {
		o.onDrop(dropped)
	}

	return terms, nil
}

// SanitizeJSON decodes data and sanitizes it.
func SanitizeJSON(data []byte, opts ...Option) ([]schema.Term, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return Sanitize(raw, opts...)
}

func sanitizeRow(row any) (schema.Term, bool) {
	fields, ok := asFields(row)
	if !ok {
		return schema.Term{}, false
	}

	rawTitle := lookup(fields, "t", "title")
	if !truthy(rawTitle) {
		return schema.Term{}, false
	}

	title := truncate(StripHTML(toString(rawTitle)), MaxTitleLen)
	if strings.TrimSpace(title) == "" {
		return schema.Term{}, false
	}

	definition := ""
	if d := lookup(fields, "d", "definition"); truthy(d) {
		definition = StripHTML(toString(d))
		if runeLen(definition) > MaxDefinitionLen {
			definition = truncate(definition, MaxDefinitionLen) + TruncationMarker
		}
	}

	category := DefaultCategory
	if c := lookup(fields, "c", "category"); truthy(c) {
		category = truncate(StripHTML(toString(c)), MaxCategoryLen)
	}

	term := schema.Term{
		Title:      title,
		Definition: definition,
		Category:   category,
	}
	if del := lookup(fields, "deleted_at", "deletedAt"); truthy(del) {
		s := toString(del)
		term.DeletedAt = &s
	}

	return term, true
}

// asFields accepts decoded JSON objects and typed terms.
func asFields(row any) (map[string]any, bool) {
	switch r := row.(type) {
	case map[string]any:
		return r, true
	case map[string]string:
		out := make(map[string]any, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out, true
	case schema.Term:
		out := map[string]any{"t": r.Title, "d": r.Definition, "c": r.Category}
		if r.DeletedAt != nil {
			out["deleted_at"] = *r.DeletedAt
		}
		return out, true
	case *schema.Term:
		if r == nil {
			return nil, false
		}
		return asFields(*r)
	default:
		return nil, false
	}
}

func lookup(fields map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// truthy mirrors loose JSON truthiness: nil, "", 0, false are empty.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case json.Number:
		return x != "" && x != "0"
	default:
		return true
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
