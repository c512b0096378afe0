package api

import (
	"mime"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/archive"
)

type createBundleRequest struct {
	Objects []string `json:"objects"`
	PID     string   `json:"pid"`
}

func (s *Server) downloadObject(w http.ResponseWriter, r *http.Request) {
	err := s.streamer.Serve(r.Context(), w, chi.URLParam(r, "id"), chi.URLParam(r, "key"), clientAddr(r))
	if err == nil {
		return
	}
	if headersSent(w) {
		abortStream(w, r, err)
	}
	writeError(w, r, err, 0)
}

// downloadBundle streams the bundle archive. Errors before the first byte get
// a normal error response; later ones abort the connection so an incomplete
// archive never looks like a finished download.
func (s *Server) downloadBundle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.bundler.Get(r.Context(), id); err != nil {
		writeError(w, r, err, 0)
		return
	}
	format := s.bundler.Format()
	h := w.Header()
	h.Set("Content-Type", archive.ContentType(format))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "bundle-" + id + archive.Ext(format),
	}))

	err := s.bundler.Stream(r.Context(), w, id)
	if err == nil {
		return
	}
	if headersSent(w) {
		abortStream(w, r, err)
	}
	h.Del("Content-Disposition")
	writeError(w, r, err, 0)
}

func (s *Server) createBundle(w http.ResponseWriter, r *http.Request) {
	var req createBundleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, 0)
		return
	}
	bundle, err := s.bundler.Create(r.Context(), req.Objects, req.PID)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusCreated, bundle)
}

func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.bundler.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, bundle)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	stats, err := s.streamer.Stat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) recentAccess(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, internal.ValidationError("access", "invalid limit %q", v), 0)
			return
		}
		limit = n
	}
	events, err := s.streamer.RecentAccess(r.Context(), limit)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

