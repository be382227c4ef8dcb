package shellctl

// State is the lifecycle state of a Control.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateClosed
	// StateFailed is entered on transport errors from any state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Exit code sentinels. Real processes never report these values.
const (
	// UnassignedExitCode means the command has not finished.
	UnassignedExitCode = -80001
	// ExitTimeoutExitCode means the command was killed after its timeout.
	ExitTimeoutExitCode = -80002
	// StartFailedExitCode means the command never started.
	StartFailedExitCode = -80003
	// InternalErrorExitCode means the exit code could not be determined.
	InternalErrorExitCode = -80004
)

// uacCancelledExitCode is ERROR_CANCELLED, reported when the user declines
// a UAC prompt.
const uacCancelledExitCode = 1223
