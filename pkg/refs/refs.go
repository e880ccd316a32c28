// Package refs recognises reveal reference tokens and defines the backend
// contract used to resolve them.
//
// A reference token has the shape ?{<scheme>:<payload>[:<kind>]}, for example
// ?{base64:eyJkYXRhIjogIi4uLiJ9:embedded}. Resolution is delegated to a Backend;
// this package only owns the token syntax.
package refs

import (
	"errors"
	"fmt"
	"regexp"
)

const (
	// EncodingOriginal marks a reference whose revealed value is raw plaintext.
	EncodingOriginal = "original"
	// EncodingBase64 marks a reference whose revealed value is already base64.
	EncodingBase64 = "base64"
)

// ErrKeyNotFound is returned by a Registry that does not know a token.
var ErrKeyNotFound = errors.New("reference not found")

const tokenExpr = `\?\{(\w+):([\w\-./+=@]+?)(?::([\w\-./]+))?\}`

var (
	fullTokenPattern = regexp.MustCompile(`^` + tokenExpr + `$`)
	tokenPattern     = regexp.MustCompile(tokenExpr)
)

// Token is a parsed reference token.
type Token struct {
	Raw     string
	Scheme  string
	Payload string
	Kind    string
}

// Parse parses s as a single reference token. The whole string must match.
func Parse(s string) (Token, bool) {
	m := fullTokenPattern.FindStringSubmatch(s)
	if m == nil {
		return Token{}, false
	}
	return Token{Raw: m[0], Scheme: m[1], Payload: m[2], Kind: m[3]}, true
}

// IsToken reports whether s is exactly one reference token.
func IsToken(s string) bool {
	return fullTokenPattern.MatchString(s)
}

// FindAll returns the tokens embedded anywhere in s, in order of appearance.
func FindAll(s string) []Token {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{Raw: m[0], Scheme: m[1], Payload: m[2], Kind: m[3]})
	}
	return tokens
}

// ReplaceAll replaces every token in s with the result of fn.
func ReplaceAll(s string, fn func(Token) (string, error)) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(s, func(raw string) string {
		if firstErr != nil {
			return raw
		}
		tok, _ := Parse(raw)
		v, err := fn(tok)
		if err != nil {
			firstErr = err
			return raw
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Ref is the metadata a Registry holds for a token.
type Ref struct {
	Encoding string
}

// Registry resolves a token to its metadata without revealing it.
type Registry interface {
	Lookup(token string) (Ref, error)
}

// Revealer resolves every token inside a document. Implementations may block.
type Revealer interface {
	Reveal(obj map[string]interface{}) (map[string]interface{}, error)
}

// Backend is the full reveal collaborator.
type Backend interface {
	Registry
	Revealer
}

// LookupError is returned when a token cannot be resolved to its metadata.
// The raw token never appears in the message since embedded tokens carry
// secret material.
type LookupError struct {
	Scheme string
	Err    error
}

func (e *LookupError) Error() string {
	if e.Scheme == "" {
		return fmt.Sprintf("reference lookup failed: %v", e.Err)
	}
	return fmt.Sprintf("reference lookup failed for %s token: %v", e.Scheme, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
