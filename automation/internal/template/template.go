// Package template renders {{dotted.path}} placeholders in reaction configs.
//
// The root object has four fixed keys: activity, defaults, raw and context.
// A path that does not resolve, or resolves to null, renders as "". There are
// no conditionals, loops or filters.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/area/automation/internal/activity"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Root builds the lookup root. Any argument may be nil.
func Root(act *activity.Activity, defaults map[string]any, raw any, ctx map[string]any) map[string]any {
	root := map[string]any{
		"activity": map[string]any{},
		"defaults": map[string]any{},
		"raw":      map[string]any{},
		"context":  map[string]any{},
	}
	if act != nil {
		root["activity"] = act.Map()
	}
	if defaults != nil {
		root["defaults"] = generic(defaults)
	}
	if raw != nil {
		root["raw"] = generic(raw)
	}
	if ctx != nil {
		root["context"] = generic(ctx)
	}
	return root
}

// Render replaces every placeholder in tmpl.
func Render(tmpl string, root map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		if len(sub) < 2 {
			return ""
		}
		return format(Lookup(root, sub[1]))
	})
}

// RenderValue renders every string inside a decoded JSON value (maps and
// slices are walked). Non-string leaves are returned unchanged.
func RenderValue(v any, root map[string]any) any {
	switch x := v.(type) {
	case string:
		return Render(x, root)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = RenderValue(vv, root)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = RenderValue(vv, root)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dotted path against root. Numeric segments index into
// arrays. Returns nil when any segment is missing.
func Lookup(root any, path string) (out any) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// generic converts typed values into map[string]any / []any trees.
func generic(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
