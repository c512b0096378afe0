package registry

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

const DateLayout = meta.DateLayout

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Site            string
	Checksum        string
	Filename        string
	MeasurementDate time.Time
	AllowUpdate     bool
	Instrument      string
	Model           string
}

// ParseRegisterInput turns a decoded JSON body into a RegisterInput. Every
// failure is a validation error whose message can be shown to the client.
func ParseRegisterInput(site string, raw map[string]any) (RegisterInput, error) {
	const op = "registry.parse"
	var in RegisterInput
	if site == "" {
		return in, internal.ValidationError(op, "missing site")
	}
	in.Site = site

	checksum, err := requiredString(op, raw, "checksum")
	if err != nil {
		return in, err
	}
	checksum = internal.NormalizeChecksum(checksum)
	if !internal.ValidChecksum(checksum) {
		return in, internal.ValidationError(op, "invalid checksum %q", checksum)
	}
	in.Checksum = checksum

	if in.Filename, err = requiredString(op, raw, "filename"); err != nil {
		return in, err
	}
	if err := validFilename(in.Filename); err != nil {
		return in, internal.ValidationError(op, "invalid filename %q: %s", in.Filename, err)
	}

	date, err := requiredString(op, raw, "measurementDate")
	if err != nil {
		return in, err
	}
	if in.MeasurementDate, err = ParseDate(date); err != nil {
		return in, internal.ValidationError(op, "invalid measurementDate %q, expected YYYY-MM-DD", date)
	}

	if in.AllowUpdate, err = optionalBool(op, raw, "allowUpdate"); err != nil {
		return in, err
	}
	if in.Instrument, err = optionalString(op, raw, "instrument"); err != nil {
		return in, err
	}
	if in.Model, err = optionalString(op, raw, "model"); err != nil {
		return in, err
	}
	return in, nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the UTC day.
func ParseDate(s string) (time.Time, error) {
	return meta.ParseDate(s)
}

func validFilename(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("empty")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name")
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("contains a path separator")
	case path.Clean(name) != name:
		return fmt.Errorf("not a clean name")
	case len(name) > 255:
		return fmt.Errorf("too long")
	}
	return nil
}

func requiredString(op string, raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", internal.ValidationError(op, "missing field %q", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", internal.ValidationError(op, "field %q must be a string", field)
	}
	if s == "" {
		return "", internal.ValidationError(op, "field %q cannot be empty", field)
	}
	return s, nil
}

func optionalString(op string, raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", internal.ValidationError(op, "field %q must be a string", field)
	}
	return s, nil
}

func optionalBool(op string, raw map[string]any, field string) (bool, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, internal.ValidationError(op, "field %q must be a boolean", field)
		}
		return parsed, nil
	}
	return false, internal.ValidationError(op, "field %q must be a boolean", field)
}
