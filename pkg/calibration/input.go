package calibration

import (
	"encoding/json"
	"time"

	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

// PutInput is a validated calibration upload: one date, any number of keys.
type PutInput struct {
	MeasurementDate time.Time
	Values          map[string]json.RawMessage
}

// ParsePutInput decodes {"measurementDate": "YYYY-MM-DD", "data": {key: value}}.
func ParsePutInput(body []byte) (PutInput, error) {
	const op = "calibration.parse"
	var in PutInput
	var raw struct {
		MeasurementDate *string                    `json:"measurementDate"`
		Data            map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return in, internal.ValidationError(op, "invalid JSON body")
	}
	if raw.MeasurementDate == nil {
		return in, internal.ValidationError(op, "missing field %q", "measurementDate")
	}
	date, err := meta.ParseDate(*raw.MeasurementDate)
	if err != nil {
		return in, internal.ValidationError(op, "invalid measurementDate %q, expected YYYY-MM-DD", *raw.MeasurementDate)
	}
	if len(raw.Data) == 0 {
		return in, internal.ValidationError(op, "field %q must hold at least one key", "data")
	}
	for k := range raw.Data {
		if k == "" {
			return in, internal.ValidationError(op, "calibration keys cannot be empty")
		}
	}
	in.MeasurementDate = date
	in.Values = raw.Data
	return in, nil
}
