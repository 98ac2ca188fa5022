package marketplace

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Kind classifies an APIError. Callers branch on the kind (usually through
// errors.Is with the matching sentinel), never on raw status codes.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindForbidden
	KindNotFound
	KindConflict
	KindRejected
	KindServer
	KindNetwork
)

// Sentinels matched by errors.Is against any *APIError of the same kind.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRejected        = errors.New("request rejected")
	ErrServer          = errors.New("server error")
	ErrNetwork         = errors.New("network failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindRejected:
		return ErrRejected
	case KindServer:
		return ErrServer
	default:
		return ErrNetwork
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// APIError is the single error shape produced by Client.
type APIError struct {
	Kind Kind
	// Status is the HTTP status, zero when no response was received.
	Status int
	// Message is the human-readable reason, taken from the response body when
	// present.
	Message string
	// Details holds a structured "detail" payload verbatim, if the backend
	// sent one.
	Details jx.Raw
	// Err is the underlying transport error for KindNetwork.
	Err error
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return e.Kind.String()
	}
}

// Is matches the kind sentinel.
func (e *APIError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// kindForStatus maps an HTTP error status to a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindRejected
	}
}

// decodeError builds an APIError from an error response. The body is
// optional and may be malformed; the backend sends either
// {"detail": "..."}, {"detail": {...}} or {"message": "..."}.
func decodeError(status int, body []byte) *APIError {
	e := &APIError{Kind: kindForStatus(status), Status: status}

	if len(body) == 0 {
		return e
	}

	var detail, message string
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "detail":
			if d.Next() == jx.String {
				s, err := d.Str()
				detail = s
				return err
			}
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			e.Details = append(jx.Raw(nil), raw...)
			return nil
		case "message":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			message = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		// Not JSON: keep a short plain-text reason.
		e.Details = nil
		e.Message = truncate(string(body), 200)
		return e
	}

	switch {
	case detail != "":
		e.Message = detail
	case message != "":
		e.Message = message
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
