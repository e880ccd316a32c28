package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/labels"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name    string
		obj     map[string]interface{}
		want    labels.Set
		wantErr bool
	}{
		{
			name: "no metadata",
			obj:  map[string]interface{}{"kind": "ConfigMap"},
			want: labels.Set{},
		},
		{
			name: "no labels",
			obj:  map[string]interface{}{"metadata": map[string]interface{}{"name": "x"}},
			want: labels.Set{},
		},
		{
			name: "filters by prefix",
			obj: map[string]interface{}{"metadata": map[string]interface{}{
				"labels": map[string]interface{}{
					"app":                        "web",
					"tesoro.kapicorp.com":        "enabled",
					"tesoro.kapicorp.com/policy": "strict",
				},
			}},
			want: labels.Set{"tesoro.kapicorp.com": "enabled", "tesoro.kapicorp.com/policy": "strict"},
		},
		{
			name: "labels of wrong type",
			obj: map[string]interface{}{"metadata": map[string]interface{}{
				"labels": []interface{}{"tesoro.kapicorp.com"},
			}},
			want:    labels.Set{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.obj)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEligible(t *testing.T) {
	c := NewClassifier()

	assert.True(t, c.Eligible(labels.Set{"tesoro.kapicorp.com": "enabled"}))
	assert.False(t, c.Eligible(labels.Set{"tesoro.kapicorp.com": "disabled"}))
	assert.False(t, c.Eligible(labels.Set{"tesoro.kapicorp.com": ""}))
	assert.False(t, c.Eligible(labels.Set{}))
	assert.False(t, c.Eligible(nil))
}
