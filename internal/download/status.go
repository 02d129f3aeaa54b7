package download

// State is the coarse phase of a download, chapter or image.
type State int

const (
	// StateWaiting means resumed but the module is not available yet.
	StateWaiting State = iota
	// StateQueue means resumed and waiting for the scheduler to admit it.
	StateQueue
	StateDownloading
	StatePaused
	StateError
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StateQueue:
		return "Queue"
	case StateDownloading:
		return "Downloading"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Status is the value observers see. Only Error statuses carry a message.
// Statuses are comparable with ==.
type Status struct {
	state   State
	message string
}

func Waiting() Status { return Status{state: StateWaiting} }

func Queued() Status { return Status{state: StateQueue} }

func Downloading() Status { return Status{state: StateDownloading} }

func Paused() Status { return Status{state: StatePaused} }

func Finished() Status { return Status{state: StateFinished} }

// Error returns an error status shown to users as "Error: <message>".
func Error(message string) Status {
	return Status{state: StateError, message: message}
}

func (s Status) State() State { return s.state }

// Message returns the error message, empty for every other state.
func (s Status) Message() string { return s.message }

// IsResumed is true for Waiting, Queue and Downloading.
func (s Status) IsResumed() bool {
	return s.state == StateWaiting || s.state == StateQueue || s.state == StateDownloading
}

// IsInProgress is true for every state except Finished.
func (s Status) IsInProgress() bool { return s.state != StateFinished }

func (s Status) IsWaiting() bool { return s.state == StateWaiting }

func (s Status) IsQueued() bool { return s.state == StateQueue }

func (s Status) IsDownloading() bool { return s.state == StateDownloading }

func (s Status) IsPaused() bool { return s.state == StatePaused }

func (s Status) IsError() bool { return s.state == StateError }

func (s Status) IsFinished() bool { return s.state == StateFinished }

// Resume returns the status after a user resumes or pauses. Finished never
// changes and resuming an already resumed status keeps it.
func (s Status) Resume(resume bool) Status {
	if s.IsFinished() || (resume && s.IsResumed()) {
		return s
	}

	if resume {
		return Waiting()
	}

	return Paused()
}

func (s Status) String() string {
	if s.state == StateError {
		return "Error: " + s.message
	}

	return s.state.String()
}
