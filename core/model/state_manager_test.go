package model

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/taxifare/pkg/errors"
)

func TestStateManagerLifecycle(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("StandardScaler", "Transform")
	var nfe *errors.NotFittedError
	require.True(t, errors.As(err, &nfe))
	assert.Equal(t, "Transform", nfe.Method)

	s.SetDimensions(3, 10)
	s.SetFitted()
	assert.True(t, s.IsFitted())
	assert.NoError(t, s.RequireFitted("StandardScaler", "Transform"))
	assert.NoError(t, s.RequireFeatures("Transform", 3))

	err = s.RequireFeatures("Transform", 2)
	var de *errors.DimensionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Expected)

	s.Reset()
	assert.False(t, s.IsFitted())
	nf, ns := s.GetDimensions()
	assert.Zero(t, nf)
	assert.Zero(t, ns)
}

func TestStateManagerNilReceiver(t *testing.T) {
	var s *StateManager
	assert.False(t, s.IsFitted())
	s.SetFitted()
	s.SetDimensions(1, 1)
	assert.Error(t, s.RequireFitted("X", "Y"))
}

type statefulComponent struct {
	Name  string
	State *StateManager
}

func TestStateManagerGobRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fitted bool
	}{
		{"fitted", true},
		{"unfitted", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := statefulComponent{Name: "scaler", State: NewStateManager()}
			if tt.fitted {
				in.State.SetDimensions(1, 5)
				in.State.SetFitted()
			}

			var buf bytes.Buffer
			require.NoError(t, SaveModelToWriter(&in, &buf))

			var out statefulComponent
			require.NoError(t, LoadModelFromReader(&out, &buf))
			assert.Equal(t, tt.fitted, out.State.IsFitted())
		})
	}
}

func init() {
	gob.Register(&statefulComponent{})
}
