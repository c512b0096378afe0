package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrStale marks an allow-update target whose retention window has passed.
var ErrStale = errors.New("update window exceeded")

// Kind classifies an Error for the request surface.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindIntegrity
	KindTransport
	KindPartialBundle
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindIntegrity:
		return "integrity"
	case KindTransport:
		return "transport"
	case KindPartialBundle:
		return "partial bundle"
	default:
		return "internal"
	}
}

// Error carries a Kind together with the operation that failed. Msg is safe
// to return to clients; Err is for logs only.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func ValidationError(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, fmt.Sprintf(format, args...), nil)
}

func ConflictError(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, fmt.Sprintf(format, args...), nil)
}

// StaleError is a ConflictError that also matches ErrStale.
func StaleError(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, fmt.Sprintf(format, args...), ErrStale)
}

func NotFoundError(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, fmt.Sprintf(format, args...), nil)
}

// IntegrityError keeps the backend's message so it can be passed through.
func IntegrityError(op, msg string, err error) error {
	return newError(KindIntegrity, op, msg, err)
}

func TransportError(op string, err error) error {
	return newError(KindTransport, op, "", err)
}

func PartialBundleError(op, format string, args ...interface{}) error {
	return newError(KindPartialBundle, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error onto the status code the request surface returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindIntegrity:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text a client may see for err. Transport and internal
// failures are reduced to a generic message so backend details never leak.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusText(http.StatusInternalServerError)
	}
	switch e.Kind {
	case KindTransport, KindInternal:
		return http.StatusText(http.StatusInternalServerError)
	case KindIntegrity:
		if e.Msg != "" {
			return e.Msg
		}
		return "checksum mismatch"
	default:
		return e.Msg
	}
}
