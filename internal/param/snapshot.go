package param

// Snapshot is an immutable point-in-time capture of a source's values.
// Callers must not mutate a snapshot after handing it to the engine;
// Capture and Clone always allocate fresh maps.
type Snapshot map[string]Value

// Capture reads every named value currently exposed by the source.
// Unset holders are omitted. A nil source yields a nil snapshot.
func Capture(src Source) Snapshot {
	if src == nil {
		return nil
	}
	names := src.Names()
	snap := make(Snapshot, len(names))
	for _, name := range names {
		if v, ok := src.Value(name); ok && v != nil {
			snap[name] = v
		}
	}
	return snap
}

// Equal reports structural equality of the whole mapping. It is the
// equality used for request deduplication.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for name, v := range s {
		ov, ok := other[name]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for name, v := range s {
		out[name] = v
	}
	return out
}

// Float reads a numeric value. Integers are widened; anything else
// (strings, bools) reports ok=false.
func (s Snapshot) Float(name string) (float64, bool) {
	v, ok := s[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String reads a textual value.
func (s Snapshot) String(name string) (string, bool) {
	v, ok := s[name]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
