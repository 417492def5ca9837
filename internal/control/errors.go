package control

import (
	"errors"
	"net/http"

	"github.com/jbweber/corral/internal/errdefs"
)

// Error kinds carried in error responses. The client maps them back to the
// errdefs sentinels so callers keep using errors.Is.
const (
	KindNotFound          = "NotFound"
	KindDuplicateIdentity = "DuplicateIdentity"
	KindDuplicateName     = "DuplicateName"
	KindInvalidState      = "InvalidState"
	KindMalformedResponse = "MalformedResponse"
	KindToolstack         = "Toolstack"
	KindResourceExhausted = "ResourceExhausted"
	KindPersistence       = "Persistence"
	KindBadRequest        = "BadRequest"
	KindInternal          = "Internal"
)

// ErrBadRequest is returned for requests the server could not decode,
// such as an invalid domain definition.
var ErrBadRequest = errors.New("bad request")

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// kinds is ordered: ErrMalformedResponse wraps ErrToolstack and must be
// matched first.
var kinds = []struct {
	kind   string
	err    error
	status int
}{
	{KindNotFound, errdefs.ErrNotFound, http.StatusNotFound},
	{KindDuplicateIdentity, errdefs.ErrDuplicateIdentity, http.StatusConflict},
	{KindDuplicateName, errdefs.ErrDuplicateName, http.StatusConflict},
	{KindInvalidState, errdefs.ErrInvalidState, http.StatusConflict},
	{KindMalformedResponse, errdefs.ErrMalformedResponse, http.StatusBadGateway},
	{KindToolstack, errdefs.ErrToolstack, http.StatusBadGateway},
	{KindResourceExhausted, errdefs.ErrResourceExhausted, http.StatusServiceUnavailable},
	{KindPersistence, errdefs.ErrPersistence, http.StatusInternalServerError},
	{KindBadRequest, ErrBadRequest, http.StatusBadRequest},
}

// classify returns the kind and HTTP status for err.
func classify(err error) (string, int) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

// RemoteError is an error reported by the serving process.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Unwrap returns the errdefs sentinel matching Kind, if any.
func (e *RemoteError) Unwrap() error {
	for _, k := range kinds {
		if k.kind == e.Kind {
			return k.err
		}
	}
	return nil
}
