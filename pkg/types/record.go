// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

// IDType names a bibliographic identifier scheme. The name doubles as the
// lookup key sent to the resolution service and as the field backfilled on
// a successful response.
type IDType string

const (
	IDPMID  IDType = "pmid"
	IDDOI   IDType = "doi"
	IDPMCID IDType = "pmcid"
)

// IDTypes lists the identifier schemes in classification preference order.
var IDTypes = []IDType{IDPMID, IDDOI, IDPMCID}

// ParseIDType converts a name such as "pmid" into an IDType.
func ParseIDType(s string) (IDType, error) {
	t := IDType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range IDTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown identifier type %q (want pmid, doi, or pmcid)", s)
}

// Value is a record field that is either a known string or unknown. The
// zero Value is unknown. A known value is never the empty string.
type Value struct {
	s     string
	known bool
}

// Unknown is the unknown Value.
var Unknown = Value{}

// Known returns a known Value holding s. An empty s yields Unknown.
func Known(s string) Value {
	if s == "" {
		return Unknown
	}
	return Value{s: s, known: true}
}

// ValueOf trims s and returns it as a Value; blank input is Unknown.
func ValueOf(s string) Value {
	return Known(strings.TrimSpace(s))
}

// Get returns the string and whether the value is known.
func (v Value) Get() (string, bool) { return v.s, v.known }

// IsKnown reports whether the value is known.
func (v Value) IsKnown() bool { return v.known }

// IsZero reports whether the value is unknown. yaml omitempty uses it.
func (v Value) IsZero() bool { return !v.known }

// String returns the value, or "" when unknown.
func (v Value) String() string { return v.s }

// MarshalYAML writes unknown values as null.
func (v Value) MarshalYAML() (any, error) {
	if !v.known {
		return nil, nil
	}
	return v.s, nil
}

// UnmarshalYAML accepts any scalar; null and blank scalars are unknown.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: identifier must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*v = Unknown
		return nil
	}
	*v = ValueOf(node.Value)
	return nil
}

// MarshalJSON writes unknown values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.known {
		return []byte("null"), nil
	}
	return json.Marshal(v.s)
}

// UnmarshalJSON accepts strings and numbers; null is unknown.
func (v *Value) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*v = Unknown
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ValueOf(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %s", raw)
	}
	*v = ValueOf(n.String())
	return nil
}

// Record is one bibliographic entry.
type Record struct {
	// Position is assigned once at ingestion and never changed. It restores
	// input order after storage round trips.
	Position int `json:"position" yaml:"position"`

	PMID  Value `json:"pmid" yaml:"pmid,omitempty"`
	DOI   Value `json:"doi" yaml:"doi,omitempty"`
	PMCID Value `json:"pmcid" yaml:"pmcid,omitempty"`

	// Extra holds any other fields returned by the resolution service,
	// treated as opaque strings.
	Extra map[string]Value `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Field returns the named field. Identifier names map to the identifier
// fields; any other name is looked up in Extra.
func (r *Record) Field(name string) Value {
	switch IDType(name) {
	case IDPMID:
		return r.PMID
	case IDDOI:
		return r.DOI
	case IDPMCID:
		return r.PMCID
	}
	return r.Extra[name]
}

// Fill sets the named field to value only if it is currently unknown.
// Known fields are authoritative and left untouched. It reports whether
// the record changed.
func (r *Record) Fill(name, value string) bool {
	v := ValueOf(value)
	if !v.IsKnown() || r.Field(name).IsKnown() {
		return false
	}
	switch IDType(name) {
	case IDPMID:
		r.PMID = v
	case IDDOI:
		r.DOI = v
	case IDPMCID:
		r.PMCID = v
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]Value)
		}
		r.Extra[name] = v
	}
	return true
}

// ID returns the identifier of type t.
func (r *Record) ID(t IDType) Value {
	return r.Field(string(t))
}

// Classify returns the highest-preference known identifier
// (PMID, then DOI, then PMCID). ok is false when none is known.
func (r *Record) Classify() (t IDType, id string, ok bool) {
	for _, t := range IDTypes {
		if s, known := r.ID(t).Get(); known {
			return t, s, true
		}
	}
	return "", "", false
}
