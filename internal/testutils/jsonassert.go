// Package testutils holds shared test helpers: semantic JSON assertions and
// payload builders for driving the simulated sensor transport.
package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON marshals v or panics. Test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls semantic JSON comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONAsserter compares JSON documents semantically, reporting a readable
// diff on mismatch instead of a raw string inequality.
type JSONAsserter struct {
	t       *testing.T
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithIgnoredFields excludes the named fields from comparison at any nesting
// level (timestamps, wall-clock values).
func (ja *JSONAsserter) WithIgnoredFields(fields ...string) *JSONAsserter {
	ja.options.IgnoredFields = append(ja.options.IgnoredFields, fields...)
	return ja
}

// Assert fails the test when actualJSON differs semantically from
// expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	if len(ja.options.IgnoredFields) > 0 {
		removeIgnoredFields(expected, ja.options.IgnoredFields)
		removeIgnoredFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	differ := gojsondiff.New()
	diff, err := differ.Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	diffString, _ := f.Format(diff)
	return diffString
}

func removeIgnoredFields(doc any, fields []string) {
	m, ok := doc.(map[string]any)
	if !ok {
		return
	}
	for _, f := range fields {
		delete(m, f)
	}
	for _, v := range m {
		removeIgnoredFields(v, fields)
	}
}

// pruneExtraKeys drops keys from actual that expected does not mention, so
// assertions only pin the fields they care about.
func pruneExtraKeys(actual, expected any) {
	actMap, ok := actual.(map[string]any)
	if !ok {
		return
	}
	expMap, ok := expected.(map[string]any)
	if !ok {
		return
	}
	for k, v := range actMap {
		ev, present := expMap[k]
		if !present {
			delete(actMap, k)
			continue
		}
		pruneExtraKeys(v, ev)
	}
}
