package orchestrator

// jobNotFoundError signals an unknown job id.
type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string { return "job not found: " + e.id }

func ErrJobNotFound(id string) error { return jobNotFoundError{id: id} }

// IsJobNotFound reports whether err indicates a missing job id.
func IsJobNotFound(err error) bool {
	_, ok := err.(jobNotFoundError)
	return ok
}

// alreadyTerminalError signals a cancel on a finished job. It is a no-op
// outcome, not a failure; callers map it to a distinct result.
type alreadyTerminalError struct{ id string }

func (e alreadyTerminalError) Error() string { return "job already terminal: " + e.id }

func ErrAlreadyTerminal(id string) error { return alreadyTerminalError{id: id} }

func IsAlreadyTerminal(err error) bool {
	_, ok := err.(alreadyTerminalError)
	return ok
}

// jobActiveError signals a clear on a job that has not finished yet.
type jobActiveError struct{ id string }

func (e jobActiveError) Error() string { return "job still active: " + e.id }

func ErrJobActive(id string) error { return jobActiveError{id: id} }

func IsJobActive(err error) bool {
	_, ok := err.(jobActiveError)
	return ok
}

// inputBusyError signals a submit against an input volume already used by a
// live job while allow_concurrent_same_input is off.
type inputBusyError struct{ dir string }

func (e inputBusyError) Error() string { return "input volume in use: " + e.dir }

func ErrInputBusy(dir string) error { return inputBusyError{dir: dir} }

func IsInputBusy(err error) bool {
	_, ok := err.(inputBusyError)
	return ok
}

// invalidRequestError signals a submit that cannot be resolved to an image.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "invalid run request: " + e.msg }

func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}
