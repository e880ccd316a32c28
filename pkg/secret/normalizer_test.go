package secret

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapicorp/tesoro/pkg/document"
	"github.com/kapicorp/tesoro/pkg/refs"
)

const (
	originalToken = "?{base64:eyJkYXRhIjogImNtVm1JREVnWkdGMFlRPT0iLCAiZW5jb2RpbmciOiAib3JpZ2luYWwiLCAidHlwZSI6ICJiYXNlNjQifQ==:embedded}"
	base64Token   = "?{base64:eyJkYXRhIjogIllVZFdjMkpIT0QwPSIsICJlbmNvZGluZyI6ICJiYXNlNjQiLCAidHlwZSI6ICJiYXNlNjQifQ==:embedded}"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func secretObject(data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]interface{}{
			"name":   "some-secret",
			"labels": map[string]interface{}{"tesoro.kapicorp.com": "enabled"},
		},
		"type": "Opaque",
		"data": data,
	}
}

type failingRegistry struct{ err error }

func (f failingRegistry) Lookup(string) (refs.Ref, error) { return refs.Ref{}, f.err }

func TestPrepare_Secret(t *testing.T) {
	obj := secretObject(map[string]interface{}{
		"file1": b64(originalToken),
		"file2": b64("not a ref"),
		"file3": "%%% not base64",
	})

	transformations, err := Prepare(obj, refs.NewEmbedded())
	require.NoError(t, err)

	assert.Equal(t, Transformations{
		"Secret": {"data": {"file1": {Encoding: "original"}}},
	}, transformations)

	data := obj["data"].(map[string]interface{})
	assert.Equal(t, originalToken, data["file1"])
	assert.Equal(t, b64("not a ref"), data["file2"])
	assert.Equal(t, "%%% not base64", data["file3"])
}

func TestPrepare_OtherKind(t *testing.T) {
	obj := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "NotAsecret",
		"data":       map[string]interface{}{"file1": b64(originalToken)},
	}

	transformations, err := Prepare(obj, refs.NewEmbedded())
	require.NoError(t, err)
	assert.Empty(t, transformations)
	assert.Equal(t, b64(originalToken), obj["data"].(map[string]interface{})["file1"])
}

func TestPrepare_SecretWithoutData(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{name: "missing", mutate: func(obj map[string]interface{}) { delete(obj, "data") }},
		{name: "null", mutate: func(obj map[string]interface{}) { obj["data"] = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := secretObject(nil)
			tt.mutate(obj)

			transformations, err := Prepare(obj, refs.NewEmbedded())
			require.NoError(t, err)
			assert.Zero(t, transformations.Len())
			assert.NoError(t, Restore(obj, transformations))
		})
	}
}

func TestPrepare_DataOfWrongType(t *testing.T) {
	obj := secretObject(nil)
	obj["data"] = "not a map"

	_, err := Prepare(obj, refs.NewEmbedded())
	require.Error(t, err)
	assert.True(t, document.IsTypeMismatch(err))
}

func TestPrepare_LookupError(t *testing.T) {
	obj := secretObject(map[string]interface{}{"file1": b64("?{gkms:prod/db}")})

	cause := &refs.LookupError{Scheme: "gkms", Err: refs.ErrKeyNotFound}
	_, err := Prepare(obj, failingRegistry{err: cause})
	require.Error(t, err)

	var lerr *refs.LookupError
	assert.True(t, errors.As(err, &lerr))
	assert.ErrorIs(t, err, refs.ErrKeyNotFound)
}

func TestRestore(t *testing.T) {
	embedded := refs.NewEmbedded()

	tests := []struct {
		name  string
		token string
		want  func(revealed string) string
	}{
		{
			name:  "original encoding is re-wrapped",
			token: originalToken,
			want:  b64,
		},
		{
			name:  "base64 encoding is kept",
			token: base64Token,
			want:  func(revealed string) string { return revealed },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := secretObject(map[string]interface{}{"file1": b64(tt.token)})

			transformations, err := Prepare(obj, embedded)
			require.NoError(t, err)

			revealed, err := embedded.RevealToken(tt.token)
			require.NoError(t, err)
			obj["data"].(map[string]interface{})["file1"] = revealed

			require.NoError(t, Restore(obj, transformations))
			assert.Equal(t, tt.want(revealed), obj["data"].(map[string]interface{})["file1"])
		})
	}
}

func TestRestore_Errors(t *testing.T) {
	transformations := Transformations{"Secret": {"data": {"file1": {Encoding: "original"}}}}

	obj := secretObject(map[string]interface{}{})
	err := Restore(obj, transformations)
	assert.True(t, document.IsNotFound(err))

	obj = secretObject(map[string]interface{}{"file1": int64(4)})
	err = Restore(obj, transformations)
	assert.True(t, document.IsTypeMismatch(err))

	assert.NoError(t, Restore(map[string]interface{}{}, Transformations{}))
}
