package refs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kapicorp/tesoro/pkg/document"
)

const (
	// SchemeBase64 is the only scheme the embedded backend resolves.
	SchemeBase64 = "base64"
	// KindEmbedded marks a token that carries its reference inline.
	KindEmbedded = "embedded"
)

// ErrUnsupportedToken is returned for tokens the embedded backend cannot resolve.
var ErrUnsupportedToken = errors.New("unsupported reference token")

// embeddedRef is the JSON document inside an embedded token's payload.
type embeddedRef struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
	Type     string `json:"type"`
}

// Embedded resolves ?{base64:<payload>:embedded} tokens whose payload is a
// base64 encoded JSON reference. It needs no key material and holds no state.
type Embedded struct{}

// NewEmbedded returns an embedded-reference backend.
func NewEmbedded() *Embedded {
	return &Embedded{}
}

var _ Backend = &Embedded{}

func (e *Embedded) decode(raw string) (embeddedRef, error) {
	tok, ok := Parse(raw)
	if !ok {
		return embeddedRef{}, &LookupError{Err: ErrUnsupportedToken}
	}
	if tok.Scheme != SchemeBase64 || tok.Kind != KindEmbedded {
		return embeddedRef{}, &LookupError{Scheme: tok.Scheme, Err: ErrUnsupportedToken}
	}

	payload, err := base64.StdEncoding.DecodeString(tok.Payload)
	if err != nil {
		return embeddedRef{}, &LookupError{Scheme: tok.Scheme, Err: fmt.Errorf("decoding payload: %w", err)}
	}

	var ref embeddedRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return embeddedRef{}, &LookupError{Scheme: tok.Scheme, Err: fmt.Errorf("parsing payload: %w", err)}
	}
	if ref.Type != "" && ref.Type != SchemeBase64 {
		return embeddedRef{}, &LookupError{Scheme: tok.Scheme, Err: fmt.Errorf("%w: type %q", ErrUnsupportedToken, ref.Type)}
	}
	if ref.Encoding == "" {
		ref.Encoding = EncodingOriginal
	}
	return ref, nil
}

// Lookup returns the declared encoding of an embedded token.
func (e *Embedded) Lookup(token string) (Ref, error) {
	ref, err := e.decode(token)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Encoding: ref.Encoding}, nil
}

// RevealToken returns the plaintext of a single embedded token.
func (e *Embedded) RevealToken(token string) (string, error) {
	ref, err := e.decode(token)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(ref.Data)
	if err != nil {
		return "", fmt.Errorf("decoding reference data: %w", err)
	}
	return string(data), nil
}

// Reveal returns a copy of obj with every embedded token in every string
// value, at any depth, replaced by its plaintext.
func (e *Embedded) Reveal(obj map[string]interface{}) (map[string]interface{}, error) {
	out := document.DeepCopy(obj)
	if _, err := e.walk(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Embedded) walk(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			nv, err := e.walk(child)
			if err != nil {
				return nil, err
			}
			t[k] = nv
		}
		return t, nil
	case []interface{}:
		for i, child := range t {
			nv, err := e.walk(child)
			if err != nil {
				return nil, err
			}
			t[i] = nv
		}
		return t, nil
	case string:
		return ReplaceAll(t, func(tok Token) (string, error) {
			return e.RevealToken(tok.Raw)
		})
	default:
		return v, nil
	}
}
