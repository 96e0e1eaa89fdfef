package tools

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Validation messages are part of the tool contract: every surface reports
// exactly these strings.
const (
	msgValueNotInteger     = "value must be an integer"
	msgDescriptionRequired = "description is required"
	msgRangeRequired       = "from and to are required (ISO datetime)"
)

// ValidationError reports a tool argument violation. It is recoverable by
// design: the bridge converts it into an error result rather than failing
// the request.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

// parseStoreArgs validates the raw store arguments.
// value must be a whole-number numeric type; description must be a
// non-blank string.
func parseStoreArgs(raw json.RawMessage) (StoreInput, error) {
	var fields struct {
		Value       json.RawMessage `json:"value"`
		Description json.RawMessage `json:"description"`
	}
	if err := unmarshalArgs(raw, &fields); err != nil {
		return StoreInput{}, validationError(msgValueNotInteger)
	}

	value, err := parseIntegerValue(fields.Value)
	if err != nil {
		return StoreInput{}, err
	}

	if fields.Description == nil {
		return StoreInput{}, validationError(msgDescriptionRequired)
	}
	var description string
	if err := json.Unmarshal(fields.Description, &description); err != nil {
		return StoreInput{}, validationError(msgDescriptionRequired)
	}
	if strings.TrimSpace(description) == "" {
		return StoreInput{}, validationError(msgDescriptionRequired)
	}

	return StoreInput{Value: value, Description: description}, nil
}

// parseIntegerValue accepts any JSON number with a whole value (5, 5.0)
// and rejects everything else, including fractional numbers and strings.
func parseIntegerValue(raw json.RawMessage) (int64, error) {
	if raw == nil {
		return 0, validationError(msgValueNotInteger)
	}

	// json.Number tolerates quoted numbers ("7"), so strings must be
	// rejected before decoding.
	if trimmed := bytes.TrimLeft(raw, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '"' {
		return 0, validationError(msgValueNotInteger)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, validationError(msgValueNotInteger)
	}

	if v, err := n.Int64(); err == nil {
		return v, nil
	}

	// Whole-valued floats (e.g. 7.0) still qualify as integers.
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, validationError(msgValueNotInteger)
	}
	return int64(f), nil
}

// parseSumArgs validates the raw sum arguments: from and to must both be
// present, non-empty strings. Their format is not checked here; the store
// passes them to PostgreSQL, which rejects malformed timestamps.
func parseSumArgs(raw json.RawMessage) (SumInput, error) {
	var fields struct {
		From json.RawMessage `json:"from"`
		To   json.RawMessage `json:"to"`
	}
	if err := unmarshalArgs(raw, &fields); err != nil {
		return SumInput{}, validationError(msgRangeRequired)
	}

	from, ok := stringArg(fields.From)
	if !ok {
		return SumInput{}, validationError(msgRangeRequired)
	}
	to, ok := stringArg(fields.To)
	if !ok {
		return SumInput{}, validationError(msgRangeRequired)
	}

	return SumInput{From: from, To: to}, nil
}

// stringArg extracts a non-empty string argument.
func stringArg(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// unmarshalArgs decodes a raw argument payload, treating absent arguments
// as an empty object.
func unmarshalArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return json.Unmarshal(raw, dst)
}
