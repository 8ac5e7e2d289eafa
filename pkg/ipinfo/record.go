package ipinfo

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the resolved metadata for one IP address, as returned by the API.
// A Record is never modified after construction.
type Record struct {
	ip     string
	fields map[string]any
}

// NewRecord builds a Record for ip from a copy of fields.
func NewRecord(ip string, fields map[string]any) *Record {
	return &Record{ip: ip, fields: cloneMap(fields)}
}

// IP returns the address exactly as it was requested.
func (r *Record) IP() string { return r.ip }

// Field returns the raw value of a top-level field.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// String returns a top-level field as a string, or "" when absent or not a string.
func (r *Record) String(name string) string {
	s, _ := r.fields[name].(string)
	return s
}

// Fields returns a copy of all fields.
func (r *Record) Fields() map[string]any { return cloneMap(r.fields) }

func (r *Record) Hostname() string { return r.String("hostname") }
func (r *Record) City() string     { return r.String("city") }
func (r *Record) Region() string   { return r.String("region") }
func (r *Record) Country() string  { return r.String("country") }
func (r *Record) Loc() string      { return r.String("loc") }
func (r *Record) Org() string      { return r.String("org") }
func (r *Record) Postal() string   { return r.String("postal") }
func (r *Record) Timezone() string { return r.String("timezone") }

// Bogon reports whether the API flagged the address as private or reserved.
func (r *Record) Bogon() bool {
	b, _ := r.fields["bogon"].(bool)
	return b
}

// MarshalJSON encodes the field map.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
