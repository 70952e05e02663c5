package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Issue describes one field that failed validation.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in an ingest payload.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field == "" {
			parts[i] = is.Message
			continue
		}
		parts[i] = is.Field + ": " + is.Message
	}
	return "invalid cost event: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Issues = append(e.Issues, Issue{Field: field, Message: msg})
}

func (e *ValidationError) has(field string) bool {
	for _, is := range e.Issues {
		if is.Field == field {
			return true
		}
	}
	return false
}

// costEventRules carries the fields that have rules beyond their JSON kind.
// Pointers distinguish absent from zero: role may be empty, cost_usd may be 0.
// The datetime layout is RFC 3339, which also accepts fractional seconds.
type costEventRules struct {
	SessionID   string   `json:"session_id" validate:"required"`
	Role        *string  `json:"role" validate:"required"`
	CostUSD     *float64 `json:"cost_usd" validate:"required,finite"`
	DurationSec *float64 `json:"duration_sec" validate:"omitnil,finite"`
	EndedAt     string   `json:"ended_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	if err != nil {
		panic(err)
	}
	return v
}

var ruleMessages = map[string]string{
	"required": "required",
	"finite":   "must be a finite number",
	"datetime": "must be an RFC 3339 timestamp with a timezone",
}

// check runs the struct rules and appends one issue per failed field,
// skipping fields that already failed their JSON kind check.
func (r costEventRules) check(verr *ValidationError) {
	err := validate.Struct(r)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		if verr.has(fe.Field()) {
			continue
		}
		msg, ok := ruleMessages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag()
		}
		verr.add(fe.Field(), msg)
	}
}

// DecodeCostEvent parses and validates a JSON cost event. Absent and null
// optional fields come back as nil. Unknown fields are ignored. On failure
// the error is a *ValidationError naming every violated field.
func DecodeCostEvent(raw []byte) (CostEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return CostEvent{}, &ValidationError{Issues: []Issue{{Message: "expected a JSON object"}}}
	}

	d := decoder{fields: fields, verr: &ValidationError{}}
	rules := costEventRules{
		SessionID:   deref(d.str("session_id")),
		Role:        d.str("role"),
		CostUSD:     d.number("cost_usd"),
		DurationSec: d.number("duration_sec"),
		EndedAt:     deref(d.str("ended_at")),
	}
	ev := CostEvent{
		Worker:            d.str("worker"),
		Rig:               d.str("rig"),
		InputTokens:       d.integer("input_tokens"),
		OutputTokens:      d.integer("output_tokens"),
		CacheReadTokens:   d.integer("cache_read_tokens"),
		CacheCreateTokens: d.integer("cache_create_tokens"),
		Model:             d.str("model"),
		BeadsClosed:       d.integer("beads_closed"),
	}
	rules.check(d.verr)
	if len(d.verr.Issues) > 0 {
		return CostEvent{}, d.verr
	}

	ev.SessionID = rules.SessionID
	ev.Role = *rules.Role
	ev.CostUSD = *rules.CostUSD
	ev.DurationSec = rules.DurationSec
	ev.EndedAt = rules.EndedAt
	return ev, nil
}

// Validate checks an already-built event against the same rules as
// DecodeCostEvent.
func (e CostEvent) Validate() error {
	verr := &ValidationError{}
	costEventRules{
		SessionID:   e.SessionID,
		Role:        &e.Role,
		CostUSD:     &e.CostUSD,
		DurationSec: e.DurationSec,
		EndedAt:     e.EndedAt,
	}.check(verr)
	if len(verr.Issues) > 0 {
		return verr
	}
	return nil
}

// decoder checks JSON kinds field by field. Null counts as absent.
type decoder struct {
	fields map[string]json.RawMessage
	verr   *ValidationError
}

func (d decoder) lookup(name string) ([]byte, bool) {
	raw, ok := d.fields[name]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (d decoder) str(name string) *string {
	raw, ok := d.lookup(name)
	if !ok {
		return nil
	}
	var s string
	if raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		d.verr.add(name, "expected string, received "+kindOf(raw))
		return nil
	}
	return &s
}

// number returns ±Inf for out-of-range literals; the finite rule rejects them.
func (d decoder) number(name string) *float64 {
	raw, ok := d.lookup(name)
	if !ok {
		return nil
	}
	if kindOf(raw) != "number" {
		d.verr.add(name, "expected number, received "+kindOf(raw))
		return nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		d.verr.add(name, "expected number")
		return nil
	}
	return &f
}

func (d decoder) integer(name string) *int64 {
	raw, ok := d.lookup(name)
	if !ok {
		return nil
	}
	if kindOf(raw) != "number" {
		d.verr.add(name, "expected integer, received "+kindOf(raw))
		return nil
	}
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return &n
	}
	// Accept integral values written with a fraction or exponent (3.0, 1e3).
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		d.verr.add(name, "expected integer")
		return nil
	}
	n := int64(f)
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func kindOf(raw []byte) string {
	switch c := raw[0]; {
	case c == '"':
		return "string"
	case c == '{':
		return "object"
	case c == '[':
		return "array"
	case c == 't' || c == 'f':
		return "boolean"
	case c == 'n':
		return "null"
	case c == '-' || (c >= '0' && c <= '9'):
		return "number"
	default:
		return fmt.Sprintf("%q", c)
	}
}
