package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant(7, "Dana Interviewer")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID(7), p.ID)
	assert.False(t, p.Departed)

	_, err = NewParticipant(7, "")
	assert.ErrorIs(t, err, ErrNameEmpty)

	_, err = NewParticipant(7, strings.Repeat("x", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "new", ConnNew.String())
	assert.Equal(t, "connecting", ConnConnecting.String())
	assert.Equal(t, "failed", ConnFailed.String())
	assert.Equal(t, "closed", ConnClosed.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}
