package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/calibration"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

type calibrationResponse struct {
	Instrument string                       `json:"instrument"`
	Date       string                       `json:"measurementDate"`
	Data       map[string]calibration.Entry `json:"data"`
}

// getCalibration answers ?date=YYYY-MM-DD with every key in effect, or with a
// single entry when key is given.
func (s *Server) getCalibration(w http.ResponseWriter, r *http.Request) {
	const op = "api.calibration"
	instrument := chi.URLParam(r, "instrument")
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, r, internal.ValidationError(op, "missing query parameter %q", "date"), 0)
		return
	}
	date, err := meta.ParseDate(raw)
	if err != nil {
		writeError(w, r, internal.ValidationError(op, "invalid date %q, expected YYYY-MM-DD", raw), 0)
		return
	}

	if key := r.URL.Query().Get("key"); key != "" {
		entry, err := s.calibration.Get(r.Context(), instrument, date, key)
		if err != nil {
			writeError(w, r, err, 0)
			return
		}
		writeJSON(w, r, http.StatusOK, entry)
		return
	}
	all, err := s.calibration.GetAll(r.Context(), instrument, date)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	if len(all) == 0 {
		writeError(w, r, internal.NotFoundError(op, "no calibration for %s on %s", instrument, raw), 0)
		return
	}
	writeJSON(w, r, http.StatusOK, calibrationResponse{
		Instrument: instrument,
		Date:       date.Format(meta.DateLayout),
		Data:       all,
	})
}

func (s *Server) putCalibration(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, r, internal.TransportError("api.calibration", err), 0)
		return
	}
	in, err := calibration.ParsePutInput(body)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	written, err := s.calibration.PutAll(r.Context(), chi.URLParam(r, "instrument"), in.MeasurementDate, in.Values)
	if err != nil {
		writeError(w, r, err, 0)
		return
	}
	if written == nil {
		written = []string{}
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"written": written})
}
