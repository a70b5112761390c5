package engine

// engineUnavailableError signals that the engine daemon/executable cannot be
// reached, so the HTTP layer can return 503 instead of 500.
type engineUnavailableError struct{ msg string }

func (e engineUnavailableError) Error() string { return e.msg }

// ErrEngineUnavailable constructs an engineUnavailableError.
func ErrEngineUnavailable(msg string) error { return engineUnavailableError{msg: msg} }

// IsEngineUnavailable reports whether err indicates an unreachable engine.
func IsEngineUnavailable(err error) bool {
	_, ok := err.(engineUnavailableError)
	return ok
}

// imageNotFoundError signals a reference absent from the local image store.
type imageNotFoundError struct{ ref string }

func (e imageNotFoundError) Error() string { return "image not found: " + e.ref }

func ErrImageNotFound(ref string) error { return imageNotFoundError{ref: ref} }

// IsImageNotFound reports whether err indicates a locally absent image.
func IsImageNotFound(err error) bool {
	_, ok := err.(imageNotFoundError)
	return ok
}

// imageInUseError signals that a running container still references the image.
type imageInUseError struct{ ref string }

func (e imageInUseError) Error() string { return "image in use: " + e.ref }

func ErrImageInUse(ref string) error { return imageInUseError{ref: ref} }

func IsImageInUse(err error) bool {
	_, ok := err.(imageInUseError)
	return ok
}

// invalidMountError signals a volume path that does not exist or is not a
// directory. The path is validated before any container is created.
type invalidMountError struct{ path string }

func (e invalidMountError) Error() string { return "invalid mount path: " + e.path }

func ErrInvalidMount(path string) error { return invalidMountError{path: path} }

func IsInvalidMount(err error) bool {
	_, ok := err.(invalidMountError)
	return ok
}

// notFoundError signals an unknown container reference.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "not found: " + e.id }

func ErrNotFound(id string) error { return notFoundError{id: id} }

func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// pullError wraps a registry/network failure during pull with its cause.
type pullError struct {
	ref   string
	cause error
}

func (e pullError) Error() string { return "pull failed: " + e.ref + ": " + e.cause.Error() }

func (e pullError) Unwrap() error { return e.cause }

func ErrPull(ref string, cause error) error { return pullError{ref: ref, cause: cause} }

func IsPull(err error) bool {
	_, ok := err.(pullError)
	return ok
}
