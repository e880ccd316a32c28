// Package document provides typed accessors over unstructured Kubernetes objects.
//
// Objects arrive as map[string]interface{} trees decoded by apimachinery's
// unstructured JSON scheme. Lookups fail with typed errors so callers decide
// explicitly whether an absent field is a problem.
package document

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/runtime"
)

// ErrPathNotFound is returned when a field along the lookup path is absent.
var ErrPathNotFound = errors.New("path not found")

// PathError reports the path of a failed lookup.
type PathError struct {
	Path []string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", joinPath(e.Path), e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// TypeMismatchError is returned when a field exists but has an unexpected type.
type TypeMismatchError struct {
	Path     []string
	Expected string
	Actual   interface{}
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %T", joinPath(e.Path), e.Expected, e.Actual)
}

// IsNotFound reports whether err is a missing-path error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound)
}

// IsTypeMismatch reports whether err is a type mismatch error.
func IsTypeMismatch(err error) bool {
	var tm *TypeMismatchError
	return errors.As(err, &tm)
}

// Lookup returns the value at fields without copying it.
func Lookup(obj map[string]interface{}, fields ...string) (interface{}, error) {
	var cur interface{} = obj
	for i, field := range fields {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, &TypeMismatchError{Path: fields[:i], Expected: "object", Actual: cur}
		}
		v, found := m[field]
		if !found {
			return nil, &PathError{Path: fields[:i+1], Err: ErrPathNotFound}
		}
		cur = v
	}
	return cur, nil
}

// Map returns the object at fields. The returned map is not a copy.
func Map(obj map[string]interface{}, fields ...string) (map[string]interface{}, error) {
	v, err := Lookup(obj, fields...)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &TypeMismatchError{Path: fields, Expected: "object", Actual: v}
	}
	return m, nil
}

// String returns the string at fields.
func String(obj map[string]interface{}, fields ...string) (string, error) {
	v, err := Lookup(obj, fields...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeMismatchError{Path: fields, Expected: "string", Actual: v}
	}
	return s, nil
}

// StringMap returns a copy of the string-valued object at fields.
// Any non-string member is a type mismatch.
func StringMap(obj map[string]interface{}, fields ...string) (map[string]string, error) {
	m, err := Map(obj, fields...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, &TypeMismatchError{Path: append(append([]string{}, fields...), k), Expected: "string", Actual: v}
		}
		out[k] = s
	}
	return out, nil
}

// DeepCopy returns a deep copy of a JSON-compatible object.
func DeepCopy(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}
	return runtime.DeepCopyJSON(obj)
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EscapePointer escapes a single JSON pointer reference token (RFC 6901).
func EscapePointer(token string) string {
	return pointerEscaper.Replace(token)
}

// Pointer builds a JSON pointer from unescaped reference tokens.
func Pointer(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(EscapePointer(t))
	}
	return b.String()
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "<root>"
	}
	return "." + strings.Join(path, ".")
}
