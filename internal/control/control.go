// Package control exposes the scanner's external control surface —
// pause/resume/stop/reset/save/maintenance — as a command channel drained
// by the dispatcher at safe points between batches, per spec.md §4.8.
package control

import "sync/atomic"

// Command is one control-surface operation.
type Command int

const (
	CmdResetStats Command = iota
	CmdSaveProgress
	CmdMaintenance
)

// Surface is the control surface shared between the dispatcher and
// external collaborators (a dashboard, signal handlers). Pause/Resume/Stop
// are plain atomic flags the dispatcher polls every loop iteration;
// ResetStats/SaveProgress/Maintenance are queued commands the dispatcher
// drains between batches, since they need to run on the dispatcher's own
// goroutine to touch its state safely.
type Surface struct {
	paused   atomic.Bool
	stopped  atomic.Bool
	commands chan Command
}

// New constructs a Surface with a small buffered command queue.
func New() *Surface {
	return &Surface{
		commands: make(chan Command, 8),
	}
}

// Pause sets the paused flag. Idempotent.
func (s *Surface) Pause() { s.paused.Store(true) }

// Resume clears the paused flag. Idempotent.
func (s *Surface) Resume() { s.paused.Store(false) }

// Paused reports whether the dispatcher should be sleeping rather than
// scheduling new probes.
func (s *Surface) Paused() bool { return s.paused.Load() }

// Stop sets shouldStop; the dispatcher observes this at its next loop
// check and runs shutdown.
func (s *Surface) Stop() { s.stopped.Store(true) }

// ShouldStop reports whether the dispatcher's main loop should exit.
func (s *Surface) ShouldStop() bool { return s.stopped.Load() }

// ResetStats enqueues a reset-stats command. Non-blocking: if the queue is
// full the command is dropped, since a repeated reset request racing with
// a pending one is a no-op in practice.
func (s *Surface) ResetStats() { s.enqueue(CmdResetStats) }

// SaveProgress enqueues a save-progress command.
func (s *Surface) SaveProgress() { s.enqueue(CmdSaveProgress) }

// Maintenance enqueues a maintenance command.
func (s *Surface) Maintenance() { s.enqueue(CmdMaintenance) }

func (s *Surface) enqueue(cmd Command) {
	select {
	case s.commands <- cmd:
	default:
	}
}

// Drain returns all commands queued since the last Drain, without
// blocking.
func (s *Surface) Drain() []Command {
	var cmds []Command
	for {
		select {
		case cmd := <-s.commands:
			cmds = append(cmds, cmd)
		default:
			return cmds
		}
	}
}
