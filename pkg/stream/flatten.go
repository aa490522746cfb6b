package stream

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// Flatten reduces a node payload to plain text. Precedence:
//
//   - nil is empty
//   - a string is itself
//   - a domain.Message is its content
//   - a slice is the concatenation of its flattened elements
//   - a map uses "text" if present, else "content", flattened recursively
//   - a fmt.Stringer is its String()
//   - anything else is empty
func Flatten(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case domain.Message:
		return val.Content
	case *domain.Message:
		if val == nil {
			return ""
		}
		return val.Content
	case []string:
		return strings.Join(val, "")
	case map[string]interface{}:
		if text, ok := val["text"]; ok {
			return Flatten(text)
		}
		if content, ok := val["content"]; ok {
			return Flatten(content)
		}
		return ""
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			b.WriteString(Flatten(rv.Index(i).Interface()))
		}
		return b.String()
	}
	return ""
}

// lastContent scans messages from the end for the last non-empty flattened
// content
func lastContent(v interface{}) string {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return Flatten(v)
	}
	for i := rv.Len() - 1; i >= 0; i-- {
		if text := Flatten(rv.Index(i).Interface()); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}
