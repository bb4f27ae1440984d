package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ValidateCurrentGeneration(t *testing.T) {
	r := NewRegistry()
	gen := r.Current("alpha")
	require.NoError(t, r.Validate("alpha", gen))
}

func TestRegistry_InvalidateSupersedesInFlightRuns(t *testing.T) {
	r := NewRegistry()
	gen := r.Current("alpha")

	next := r.Invalidate("alpha")
	assert.Greater(t, next, gen)

	err := r.Validate("alpha", gen)
	require.ErrorIs(t, err, ErrRunAborted)
	require.NoError(t, r.Validate("alpha", next))
}

func TestRegistry_CoresAreIndependent(t *testing.T) {
	r := NewRegistry()
	gen := r.Current("beta")
	r.Invalidate("alpha")
	require.NoError(t, r.Validate("beta", gen))
}
