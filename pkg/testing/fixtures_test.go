package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapicorp/tesoro/pkg/refs"
)

func TestEventually(t *testing.T) {
	counter := 0
	Eventually(t, func() (bool, string) {
		counter++
		if counter >= 3 {
			return true, "reached count"
		}
		return false, "waiting for count"
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, counter, 3)
}

func TestParseObject(t *testing.T) {
	obj := ParseObject(t, []byte(`
apiVersion: v1
kind: ConfigMap
metadata:
  name: test
data:
  replicas: "3"
spec:
  count: 3
`))
	assert.Equal(t, "ConfigMap", obj.GetKind())
	assert.Equal(t, "test", obj.GetName())
	assert.Equal(t, int64(3), obj.Object["spec"].(map[string]interface{})["count"])
}

func TestApplyPatch(t *testing.T) {
	obj := map[string]interface{}{"data": map[string]interface{}{"a": "1"}}
	out := ApplyPatch(t, obj, []map[string]interface{}{
		{"op": "replace", "path": "/data/a", "value": "2"},
	})
	assert.Equal(t, "2", out["data"].(map[string]interface{})["a"])
	assert.Equal(t, "1", obj["data"].(map[string]interface{})["a"])
}

func TestFakeBackend(t *testing.T) {
	f := &FakeBackend{
		Values:    map[string]string{"?{fake:one}": "1", "?{fake:two}": "Mg=="},
		Encodings: map[string]string{"?{fake:two}": refs.EncodingBase64},
	}

	ref, err := f.Lookup("?{fake:one}")
	require.NoError(t, err)
	assert.Equal(t, refs.EncodingOriginal, ref.Encoding)

	ref, err = f.Lookup("?{fake:two}")
	require.NoError(t, err)
	assert.Equal(t, refs.EncodingBase64, ref.Encoding)

	_, err = f.Lookup("?{fake:missing}")
	assert.ErrorIs(t, err, refs.ErrKeyNotFound)

	out, err := f.Reveal(map[string]interface{}{
		"a": "?{fake:one}",
		"b": []interface{}{"x ?{fake:two}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", out["a"])
	assert.Equal(t, []interface{}{"x Mg=="}, out["b"])
	assert.Equal(t, 1, f.Calls())
	assert.Len(t, f.Lookups(), 3)
}
