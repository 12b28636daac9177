package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/yieldmove/internal/model"
)

// Options control how an envelope is written.
type Options struct {
	// Mode is "json" or "plain".
	Mode string
	// Select keeps only these top-level fields of Data.
	Select []string
	// ResultsOnly writes Data without the envelope.
	ResultsOnly bool
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.Select) > 0 {
		data = project(data, opts.Select)
	}

	if opts.ResultsOnly {
		if opts.Mode == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
		return renderPlain(w, data)
	}

	if opts.Mode == "json" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if _, err := fmt.Fprintln(w, statusLine(env)); err != nil {
		return err
	}
	if env.Success || !isEmpty(data) {
		return renderPlain(w, data)
	}
	return nil
}

// statusLine summarizes an envelope for plain output, e.g.
// "ok silo withdraw network=sonic" or "error partial_workflow(29): ...".
func statusLine(env model.Envelope) string {
	var b strings.Builder
	if env.Success {
		b.WriteString("ok")
	} else {
		b.WriteString("error")
	}
	if env.Meta.Command != "" {
		b.WriteString(" " + env.Meta.Command)
	}
	if env.Meta.Network != "" {
		b.WriteString(" network=" + env.Meta.Network)
	}
	if env.Meta.Signer != "" {
		b.WriteString(" signer=" + env.Meta.Signer)
	}
	if env.Meta.Partial {
		b.WriteString(" partial=true")
	}
	if env.Error != nil {
		fmt.Fprintf(&b, " %s(%d): %s", env.Error.Type, env.Error.Code, env.Error.Message)
	}
	for _, warning := range env.Warnings {
		b.WriteString("\nwarning: " + warning)
	}
	return b.String()
}

func isEmpty(data any) bool {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len() == 0
	default:
		return false
	}
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// normalizeValue round-trips v through JSON so structs render by their json
// tags.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

// toLine writes maps as sorted key=value pairs. Nested values stay JSON so
// a line can be parsed back field by field.
func toLine(v any) (string, error) {
	t, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch value := t[k].(type) {
		case map[string]any, []any:
			buf, err := json.Marshal(value)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, buf))
		case nil:
			continue
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, value))
		}
	}
	return strings.Join(parts, " "), nil
}
