package device

import "fmt"

// Domain identifies device errors in HTTP error bodies.
const Domain = "PostalDeviceError"

// Error codes, stable across the HTTP surface.
const (
	CodeMissingUser = iota
	CodeMissingID
	CodeInvalidID
	CodeInvalidJSON
	CodeNotFound
	CodeUnsupportedType
)

// Error is a device-domain failure carrying the code reported to callers.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrMissingUser     = newError(CodeMissingUser, "you must supply user")
	ErrMissingID       = newError(CodeMissingID, "id is missing from device")
	ErrInvalidID       = newError(CodeInvalidID, "the device id is not valid")
	ErrInvalidJSON     = newError(CodeInvalidJSON, "missing or invalid fields in JSON payload")
	ErrNotFound        = newError(CodeNotFound, "the device could not be found")
	ErrUnsupportedType = newError(CodeUnsupportedType, "the device_type is not supported")
)
