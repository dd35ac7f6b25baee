package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence in expected JSON matches any actual value, including null.
const Presence = "<<PRESENCE>>"

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	NilToEmptyArray          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a gojsondiff
// rendering on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) Options() JSONAssertOptions { return ja.options }

func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// Diff returns "" when the documents match under the configured options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
	}
	if _, ok := actual.([]any); ok {
		actual = map[string]any{"array": actual}
	}

	o := ja.options
	if o.AllowPresencePlaceholder {
		expected = fillPresence(expected, actual)
	}
	if o.NilToEmptyArray {
		expected = emptyNil(expected)
		actual = emptyNil(actual)
	}
	for _, f := range o.IgnoredFields {
		dropField(expected, f)
		dropField(actual, f)
	}
	if o.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if o.IgnoreExtraKeys {
		pruneExtra(actual, expected)
	}

	eb, _ := json.Marshal(expected)
	ab, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(eb, ab)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}
	var left map[string]any
	_ = json.Unmarshal(eb, &left)
	out, _ := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

func fillPresence(expected, actual any) any {
	if s, ok := expected.(string); ok && s == Presence {
		return actual
	}
	switch exp := expected.(type) {
	case map[string]any:
		act, _ := actual.(map[string]any)
		for k, v := range exp {
			exp[k] = fillPresence(v, act[k])
		}
	case []any:
		act, _ := actual.([]any)
		for i, v := range exp {
			var a any
			if i < len(act) {
				a = act[i]
			}
			exp[i] = fillPresence(v, a)
		}
	}
	return expected
}

// emptyNil turns null into [] so a nil Go slice matches an empty array.
func emptyNil(v any) any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case map[string]any:
		for k, e := range x {
			x[k] = emptyNil(e)
		}
	case []any:
		for i, e := range x {
			x[i] = emptyNil(e)
		}
	}
	return v
}

func dropField(v any, field string) {
	switch x := v.(type) {
	case map[string]any:
		delete(x, field)
		for _, e := range x {
			dropField(e, field)
		}
	case []any:
		for _, e := range x {
			dropField(e, field)
		}
	}
}

func pruneExtra(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
			}
		}
		for k, e := range exp {
			pruneExtra(act[k], e)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			pruneExtra(act[i], exp[i])
		}
	}
}

func sortArrays(v any) {
	switch x := v.(type) {
	case map[string]any:
		for _, e := range x {
			sortArrays(e)
		}
	case []any:
		for _, e := range x {
			sortArrays(e)
		}
		sort.Slice(x, func(i, j int) bool { return MustJSON(x[i]) < MustJSON(x[j]) })
	}
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithNilToEmptyArray(normalize bool) Option {
	return func(o *JSONAssertOptions) { o.NilToEmptyArray = normalize }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

func WithIgnoreArrayOrder(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}
