// Package params normalizes raw generation parameters coming from HTTP requests,
// interactive prompts, or NATS jobs into one clamped parameter record.
package params

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Fallback table. A missing or unparseable numeric field resolves to these values.
const (
	DefaultTemperature  = 1.0
	DefaultTopP         = 0.95
	DefaultMaxNewTokens = 1024
)

// Fixed sampling bounds shared by every front-end.
const (
	MinTemperature  = 0.1
	MaxTemperature  = 2.0
	MinTopP         = 0.1
	MaxTopP         = 1.0
	MinMaxNewTokens = 128

	// DefaultMaxNewTokensCap is the upper bound the HTTP front-end applies.
	DefaultMaxNewTokensCap = 4096
)

// Field names, matching the wire names of the generation route.
const (
	FieldText         = "text"
	FieldTemperature  = "temperature"
	FieldTopP         = "top_p"
	FieldMaxNewTokens = "max_new_tokens"
)

// ErrMissingText is returned when the text field is absent or blank.
var ErrMissingText = errors.New("missing text content")

// Value is an untyped field as received from a request. Set is false when the
// field was not supplied at all.
type Value struct {
	Raw string
	Set bool
}

// Of returns a set Value.
func Of(raw string) Value {
	return Value{Raw: raw, Set: true}
}

// Raw is the encoding-independent request record every adapter produces.
type Raw struct {
	Text         Value
	Temperature  Value
	TopP         Value
	MaxNewTokens Value
}

// Bounds controls clamping. MaxTokensCap of zero leaves max_new_tokens uncapped.
type Bounds struct {
	MaxTokensCap int
}

// HTTPBounds returns the bounds used by the HTTP front-end. A non-positive cap
// selects DefaultMaxNewTokensCap.
func HTTPBounds(maxTokensCap int) Bounds {
	if maxTokensCap <= 0 {
		maxTokensCap = DefaultMaxNewTokensCap
	}

	return Bounds{MaxTokensCap: maxTokensCap}
}

// CLIBounds returns the bounds used by the interactive prompt, which has no
// upper limit on max_new_tokens.
func CLIBounds() Bounds {
	return Bounds{MaxTokensCap: 0}
}

// Params is the normalized parameter set.
type Params struct {
	Text         string
	Temperature  float64
	TopP         float64
	MaxNewTokens int
}

// Resolve validates the text and resolves every numeric field, returning the
// names of fields that fell back to their default.
func Resolve(raw Raw, bounds Bounds) (Params, []string, error) {
	text := strings.TrimSpace(raw.Text.Raw)
	if text == "" {
		return Params{}, nil, ErrMissingText
	}

	var fallbacks []string

	temperature, ok := ParseFloat(raw.Temperature, DefaultTemperature)
	if !ok {
		fallbacks = append(fallbacks, FieldTemperature)
	}

	topP, ok := ParseFloat(raw.TopP, DefaultTopP)
	if !ok {
		fallbacks = append(fallbacks, FieldTopP)
	}

	maxNewTokens, ok := ParseInt(raw.MaxNewTokens, DefaultMaxNewTokens)
	if !ok {
		fallbacks = append(fallbacks, FieldMaxNewTokens)
	}

	return Params{
		Text:         text,
		Temperature:  ClampTemperature(temperature),
		TopP:         ClampTopP(topP),
		MaxNewTokens: bounds.ClampMaxNewTokens(maxNewTokens),
	}, fallbacks, nil
}

// ParseFloat parses v, returning def when v is unset or blank. The boolean is
// false only when a supplied value could not be parsed. Out-of-range numbers
// come back as ±Inf or zero so clamping saturates them.
func ParseFloat(v Value, def float64) (float64, bool) {
	s := strings.TrimSpace(v.Raw)
	if !v.Set || s == "" {
		return def, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if (err != nil && !errors.Is(err, strconv.ErrRange)) || math.IsNaN(f) {
		return def, false
	}

	return f, true
}

// ParseInt is ParseFloat for integer fields. Out-of-range numbers come back
// as the largest or smallest int.
func ParseInt(v Value, def int) (int, bool) {
	s := strings.TrimSpace(v.Raw)
	if !v.Set || s == "" {
		return def, true
	}

	n, err := strconv.Atoi(s)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return def, false
	}

	return n, true
}

// ClampTemperature saturates t into [MinTemperature, MaxTemperature].
func ClampTemperature(t float64) float64 {
	return clampFloat(t, MinTemperature, MaxTemperature)
}

// ClampTopP saturates p into [MinTopP, MaxTopP].
func ClampTopP(p float64) float64 {
	return clampFloat(p, MinTopP, MaxTopP)
}

// ClampMaxNewTokens applies the lower bound and, when configured, the cap.
func (b Bounds) ClampMaxNewTokens(n int) int {
	n = max(n, MinMaxNewTokens)
	if b.MaxTokensCap > 0 {
		n = min(n, b.MaxTokensCap)
	}

	return n
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
