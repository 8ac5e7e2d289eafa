package ipinfo

// Result is the outcome for one IP of a batch: either Record or Err is set, never both.
type Result struct {
	IP     string
	Record *Record
	Err    error
}

// Success wraps a resolved record.
func Success(rec *Record) Result {
	return Result{IP: rec.IP(), Record: rec}
}

// Failure builds a per-IP error result.
func Failure(ip, reason string) Result {
	return Result{IP: ip, Err: &IPError{IP: ip, Reason: reason}}
}

// OK reports whether the IP was resolved.
func (r Result) OK() bool { return r.Err == nil && r.Record != nil }

// Reason returns the per-IP failure reason, or "" on success.
func (r Result) Reason() string {
	if ipErr, ok := r.Err.(*IPError); ok {
		return ipErr.Reason
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return ""
}

// MarshalJSON encodes the record fields, or an {"ip","error"} object for failures.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK() {
		return r.Record.MarshalJSON()
	}
	return json.Marshal(map[string]string{"ip": r.IP, "error": r.Reason()})
}
