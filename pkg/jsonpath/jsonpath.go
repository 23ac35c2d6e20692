// Package jsonpath extracts values from JSON documents with a small JSONPath
// subset ($.a.b, $.a[0], $['a'], $[0]) translated to gjson paths.
package jsonpath

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyDocument is returned when there is no JSON to search.
	ErrEmptyDocument = errors.New("empty JSON document")

	// ErrEmptyPath is returned for an empty expression.
	ErrEmptyPath = errors.New("empty JSONPath expression")
)

// NotFoundError reports a path that matched nothing.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

// Extract returns the value at path in doc as a string. Objects and arrays
// are returned as raw JSON and null as "null".
func Extract(doc []byte, path string) (string, error) {
	result, err := Lookup(doc, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractString is Extract for string documents.
func ExtractString(doc, path string) (string, error) {
	return Extract([]byte(doc), path)
}

// Lookup returns the raw gjson result at path.
func Lookup(doc []byte, path string) (gjson.Result, error) {
	if len(doc) == 0 {
		return gjson.Result{}, ErrEmptyDocument
	}
	if strings.TrimSpace(path) == "" {
		return gjson.Result{}, ErrEmptyPath
	}

	result := gjson.GetBytes(doc, ToGJSON(path))
	if !result.Exists() {
		return gjson.Result{}, &NotFoundError{Path: path}
	}
	return result, nil
}

// ExtractMultiple extracts every named path. Values that were found are
// returned even when others fail; the error lists the failures by name.
func ExtractMultiple(doc []byte, paths map[string]string) (map[string]string, error) {
	if len(doc) == 0 {
		return nil, ErrEmptyDocument
	}

	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(paths))
	var failures []string
	for _, name := range names {
		value, err := Extract(doc, paths[name])
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		results[name] = value
	}

	if len(failures) > 0 {
		return results, fmt.Errorf("extraction errors: %s", strings.Join(failures, "; "))
	}
	return results, nil
}

// ToGJSON translates a JSONPath expression to gjson syntax. Expressions
// without a leading "$" are assumed to be gjson paths already and are
// returned unchanged.
func ToGJSON(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = path[1:]
	if path == "" {
		return "@this"
	}

	var parts []string
	for i := 0; i < len(path); {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				parts = append(parts, escape(path[i+1:]))
				i = len(path)
				continue
			}
			key := path[i+1 : i+end]
			key = strings.Trim(key, `'"`)
			parts = append(parts, escape(key))
			i += end + 1
		default:
			end := strings.IndexAny(path[i:], ".[")
			if end < 0 {
				end = len(path) - i
			}
			parts = append(parts, path[i:i+end])
			i += end
		}
	}
	if len(parts) == 0 {
		return "@this"
	}
	return strings.Join(parts, ".")
}

// escape protects gjson metacharacters inside a bracketed key.
func escape(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
