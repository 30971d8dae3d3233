// Package auditrail records, alongside a primary entity write, an immutable
// audit entry describing what changed, who changed it, and how.
//
// The primary write and its audit entry share a single unit of work: if the
// primary write fails, no entry is written; if the entry write fails, the
// primary write still commits and the failure is surfaced as informational
// payload on the result. Storage is pluggable via the Store interface; see
// the sqlstore and memstore packages for implementations.
package auditrail

// Recorder coordinates primary writes with their audit entries.
type Recorder struct {
	store    Store
	cfg      Config
	redacted map[string]struct{}
}

// New creates a Recorder backed by the given store.
func New(store Store, cfg Config) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		store:    store,
		cfg:      cfg,
		redacted: cfg.redactedSet(),
	}
}

// Config returns the effective configuration, defaults applied.
func (r *Recorder) Config() Config {
	return r.cfg
}
