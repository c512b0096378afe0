package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/registry"
)

const maxJSONBody = 1 << 20

type dataResponse struct {
	ID              string      `json:"id"`
	Checksum        string      `json:"checksum"`
	Status          meta.Status `json:"status"`
	Size            int64       `json:"size"`
	AlreadyUploaded bool        `json:"alreadyUploaded"`
}

// registerUpload answers 200 with the record, 409 when the checksum is taken
// or the update window has passed, and 422 for malformed metadata.
func (s *Server) registerUpload(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		s.metrics.RegistrationDone("invalid")
		writeError(w, r, err, http.StatusUnprocessableEntity)
		return
	}
	in, err := registry.ParseRegisterInput(siteFrom(r.Context()), raw)
	if err != nil {
		s.metrics.RegistrationDone("invalid")
		writeError(w, r, err, http.StatusUnprocessableEntity)
		return
	}
	rec, err := s.registry.RegisterUpload(r.Context(), in)
	if err != nil {
		status := 0
		switch {
		case internal.IsKind(err, internal.KindValidation):
			status = http.StatusUnprocessableEntity
			s.metrics.RegistrationDone("invalid")
		case errors.Is(err, internal.ErrStale):
			s.metrics.RegistrationDone("stale")
		case internal.IsKind(err, internal.KindConflict):
			s.metrics.RegistrationDone("conflict")
		default:
			s.metrics.RegistrationDone("error")
		}
		writeError(w, r, err, status)
		return
	}
	s.metrics.RegistrationDone("ok")
	writeJSON(w, r, http.StatusOK, rec)
}

// putData streams the request body to the backend. An unknown checksum is a
// client error here, not a missing resource.
func (s *Server) putData(w http.ResponseWriter, r *http.Request) {
	checksum := chi.URLParam(r, "checksum")
	res, err := s.ingestor.Ingest(r.Context(), siteFrom(r.Context()), checksum, r.Body, r.ContentLength)
	if err != nil {
		status := 0
		if internal.IsKind(err, internal.KindNotFound) {
			status = http.StatusBadRequest
		}
		writeError(w, r, err, status)
		return
	}
	writeJSON(w, r, http.StatusOK, dataResponse{
		ID:              res.Upload.ID,
		Checksum:        res.Upload.Checksum,
		Status:          res.Upload.Status,
		Size:            res.Size,
		AlreadyUploaded: res.AlreadyDone,
	})
}

// listUploads filters by site, dateFrom, dateTo and a comma separated status list.
func (s *Server) listUploads(w http.ResponseWriter, r *http.Request) {
	const op = "api.uploads"
	q := r.URL.Query()
	query := registry.Query{Site: q.Get("site")}
	var err error
	if v := q.Get("dateFrom"); v != "" {
		if query.From, err = registry.ParseDate(v); err != nil {
			writeError(w, r, internal.ValidationError(op, "invalid dateFrom %q", v), 0)
			return
		}
	}
	if v := q.Get("dateTo"); v != "" {
		if query.To, err = registry.ParseDate(v); err != nil {
			writeError(w, r, internal.ValidationError(op, "invalid dateTo %q", v), 0)
			return
		}
	}
	for _, v := range q["status"] {
		for _, st := range strings.Split(v, ",") {
			status := meta.Status(strings.TrimSpace(st))
			if !status.Valid() {
				writeError(w, r, internal.ValidationError(op, "invalid status %q", st), 0)
				return
			}
			query.Statuses = append(query.Statuses, status)
		}
	}

	uploads, err := s.registry.ListUploads(r.Context(), query)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, uploads)
}

// setUploadStatus lets the processing pipeline mark an upload processed or invalid.
func (s *Server) setUploadStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.status"
	var body struct {
		Status meta.Status `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err, 0)
		return
	}
	id := chi.URLParam(r, "id")
	var (
		rec *registry.UploadRecord
		err error
	)
	switch body.Status {
	case meta.StatusProcessed:
		rec, err = s.registry.MarkProcessed(r.Context(), id)
	case meta.StatusInvalid:
		rec, err = s.registry.MarkInvalid(r.Context(), id)
	default:
		err = internal.ValidationError(op, "status must be %q or %q", meta.StatusProcessed, meta.StatusInvalid)
	}
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return internal.ValidationError("api.decode", "invalid JSON body")
	}
	return nil
}
