package params

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	coreerrors "yieldprotocol/core/errors"
)

var allowedKeys = buildAllowedKeys()

func buildAllowedKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(ProtocolParams{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" || name == "version" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// AllowedKeys lists the parameter names a governance delta may touch.
func AllowedKeys() []string {
	out := make([]string, 0, len(allowedKeys))
	for key := range allowedKeys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// ParseDelta decodes a JSON object of parameter overrides and rejects unknown
// or reserved keys.
func ParseDelta(delta []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(delta)
	if len(trimmed) == 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "empty parameter delta")
	}
	var fields map[string]json.RawMessage
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "decode delta: %v", err)
	}
	if len(fields) == 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "parameter delta has no fields")
	}
	for key := range fields {
		if _, ok := allowedKeys[key]; !ok {
			return nil, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "parameter %q is not governable", key)
		}
	}
	return fields, nil
}

// Preflight merges the delta over cur and validates the candidate. The
// returned set carries the next version number.
func Preflight(cur ProtocolParams, delta []byte) (ProtocolParams, error) {
	fields, err := ParseDelta(delta)
	if err != nil {
		return ProtocolParams{}, err
	}
	base, err := json.Marshal(cur)
	if err != nil {
		return ProtocolParams{}, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return ProtocolParams{}, err
	}
	for key, value := range fields {
		merged[key] = value
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return ProtocolParams{}, err
	}
	var candidate ProtocolParams
	if err := json.Unmarshal(encoded, &candidate); err != nil {
		return ProtocolParams{}, coreerrors.Wrap(coreerrors.ErrInvalidProposal, "apply delta: %v", err)
	}
	candidate.Version = cur.Version + 1
	if err := candidate.Validate(); err != nil {
		return ProtocolParams{}, err
	}
	return candidate, nil
}
