package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence in an expected document matches any actual value.
const Presence = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

func WithAllowPresencePlaceholder(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = v }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents structurally. By default keys absent
// from the expected document are ignored, so a test pins only what it cares
// about in a session snapshot.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) Options() JSONAssertOptions { return ja.options }

func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// AssertValue marshals v and compares it with expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) bool {
	return ja.Assert(MustJSON(v), expectedJSON)
}

func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual map[string]interface{}
	if err := json.Unmarshal([]byte(wrapArray(expectedJSON)), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(wrapArray(actualJSON)), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	for _, f := range ja.options.IgnoredFields {
		removeKey(expected, f)
		removeKey(actual, f)
	}
	walk(expected, actual, func(exp, act map[string]interface{}) {
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence && ja.options.AllowPresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
			}
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
	})

	diff := gojsondiff.New().CompareObjects(expected, actual)
	if !diff.Modified() {
		return ""
	}
	out, err := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON differs (format failed: %v)", err)
	}
	return out
}

// wrapArray lets root-level arrays through gojsondiff, which only compares
// objects.
func wrapArray(doc string) string {
	if strings.HasPrefix(strings.TrimSpace(doc), "[") {
		return `{"array":` + doc + `}`
	}
	return doc
}

func walk(expected, actual interface{}, fn func(exp, act map[string]interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		fn(exp, act)
		for k := range exp {
			walk(exp[k], act[k], fn)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walk(exp[i], act[i], fn)
			}
		}
	}
}

func removeKey(v interface{}, key string) {
	switch t := v.(type) {
	case map[string]interface{}:
		delete(t, key)
		for _, child := range t {
			removeKey(child, key)
		}
	case []interface{}:
		for _, child := range t {
			removeKey(child, key)
		}
	}
}
