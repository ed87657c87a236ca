// Package strings provides the string helpers shared by the transformer and
// the CSV sink: scalar formatting, header normalization and HTML stripping.
package strings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
)

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	nonWordPattern = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRun  = regexp.MustCompile(`_+`)
)

// ValueToString converts a scalar value to its CSV representation.
// nil becomes the empty string; composite values are encoded as JSON.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// NormalizeHeader turns an arbitrary field path into a column name:
// lowercase, non-alphanumerics replaced by a single underscore.
func NormalizeHeader(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = nonWordPattern.ReplaceAllString(n, "_")
	n = underscoreRun.ReplaceAllString(n, "_")
	return strings.Trim(n, "_")
}

// StripHTML removes markup tags. Text outside the tags, whitespace
// included, is kept as is.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	return htmlTagPattern.ReplaceAllString(s, "")
}

// IsBlank reports whether s has no non-whitespace characters.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
