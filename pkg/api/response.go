package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

type errResponse struct {
	Status int    `json:"status"`
	Error  string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// writeError answers with the status of err's kind, or status when non-zero.
// Transport and internal failures are logged and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := internal.PublicMessage(err)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)
	case status == 0:
		status = internal.HTTPStatus(err)
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, r, status, errResponse{Status: status, Error: msg})
}

// abortStream ends a response whose headers are already out. The client sees
// a truncated transfer instead of a success.
func abortStream(w http.ResponseWriter, r *http.Request, err error) {
	logger.Warnf("%s %s: aborting response: %v", r.Method, r.URL.Path, err)
	panic(http.ErrAbortHandler)
}
