package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/meet/internal/domain"
)

func TestAcquireDenied(t *testing.T) {
	c := NewController(&SyntheticProvider{Deny: true})
	_, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDevice)
	assert.Nil(t, c.State())
}

func TestAcquireIsIdempotent(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	defer c.Release()

	s1, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	s2, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	require.Len(t, s1.Tracks(), 2)
}

func TestToggleFlipsEnablementOnly(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	defer c.Release()

	state, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	audio := state.Audio()
	video := state.Video()
	assert.True(t, audio.Enabled())
	assert.True(t, video.Enabled())

	enabled, err := c.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, enabled)
	enabled, err = c.ToggleAudio()
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = c.ToggleVideo()
	require.NoError(t, err)
	assert.False(t, enabled)

	// mute never replaces the track
	assert.Same(t, audio, state.Audio())
	assert.Same(t, video, state.Video())
}

func TestToggleBeforeAcquire(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	_, err := c.ToggleAudio()
	assert.ErrorIs(t, err, ErrNotAcquired)
	_, err = c.ToggleVideo()
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestScreenShareSwapAndRestore(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	defer c.Release()

	state, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	camera := state.Video()

	screen, err := c.StartScreenShare()
	require.NoError(t, err)
	assert.True(t, c.Sharing())
	assert.NotSame(t, camera, screen)
	assert.Same(t, screen, state.Video())

	// starting twice keeps the same substitute
	again, err := c.StartScreenShare()
	require.NoError(t, err)
	assert.Same(t, screen, again)

	restored, err := c.StopScreenShare()
	require.NoError(t, err)
	assert.False(t, c.Sharing())
	assert.Same(t, camera, restored)
	assert.Same(t, camera, state.Video())
}

func TestStopScreenShareWithoutStart(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	defer c.Release()

	_, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	_, err = c.StopScreenShare()
	assert.Error(t, err)
}

func TestReleaseStopsEverything(t *testing.T) {
	c := NewController(&SyntheticProvider{})
	_, err := c.AcquireCameraAndMic(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	_, err = c.StartScreenShare()
	require.NoError(t, err)

	c.Release()
	assert.Nil(t, c.State())
	assert.False(t, c.Sharing())

	// release on a released controller is a no-op
	c.Release()
}
