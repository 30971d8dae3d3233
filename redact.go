package auditrail

// RedactionMarker replaces the values of configured sensitive fields in
// stored changesets.
const RedactionMarker = "[REDACTED]"

// redact post-processes an extracted mapping: configured field values are
// replaced with RedactionMarker at the top level, and a nil password field is
// dropped entirely rather than stored as an empty placeholder. Redacting an
// already-redacted mapping is a no-op.
func redact(m map[string]any, fields map[string]struct{}) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == passwordField && v == nil {
			continue
		}
		if _, ok := fields[k]; ok {
			out[k] = RedactionMarker
			continue
		}
		out[k] = v
	}
	return out
}
