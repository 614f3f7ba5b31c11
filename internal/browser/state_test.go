package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{StateIdle, StateOpening},
		{StateOpening, StateAuthenticating},
		{StateAuthenticating, StateAuthenticated},
		{StateAuthenticating, StateChallenged},
		{StateAuthenticated, StateExtracting},
		{StateExtracting, StateClosed},
		{StateChallenged, StateClosed},
		{StateIdle, StateClosed},
	}
	for _, tr := range legal {
		assert.True(t, canTransition(tr[0], tr[1]), "%s -> %s should be legal", tr[0], tr[1])
	}

	illegal := [][2]State{
		{StateIdle, StateAuthenticating},
		{StateOpening, StateOpening},
		{StateOpening, StateExtracting},
		{StateChallenged, StateAuthenticated},
		{StateChallenged, StateExtracting},
		{StateExtracting, StateAuthenticated},
		{StateClosed, StateOpening},
		{StateClosed, StateClosed},
	}
	for _, tr := range illegal {
		assert.False(t, canTransition(tr[0], tr[1]), "%s -> %s should be illegal", tr[0], tr[1])
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "state(42)", State(42).String())
}
