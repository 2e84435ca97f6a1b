package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPauseResumeIdempotent(t *testing.T) {
	s := New()
	require.False(t, s.Paused())

	s.Pause()
	s.Pause()
	require.True(t, s.Paused())

	s.Resume()
	s.Resume()
	require.False(t, s.Paused())
}

func TestStopIsObservable(t *testing.T) {
	s := New()
	require.False(t, s.ShouldStop())
	s.Stop()
	require.True(t, s.ShouldStop())
}

func TestDrainReturnsQueuedCommandsInOrder(t *testing.T) {
	s := New()
	s.ResetStats()
	s.SaveProgress()
	s.Maintenance()

	cmds := s.Drain()
	require.Equal(t, []Command{CmdResetStats, CmdSaveProgress, CmdMaintenance}, cmds)
	require.Empty(t, s.Drain())
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		s.Maintenance()
	}
	cmds := s.Drain()
	require.LessOrEqual(t, len(cmds), 8)
}
