package auditrail

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mickamy/auditrail/metrics"
)

// DefaultTableName is the audit table written to when none is configured.
const DefaultTableName = "audit_logs"

// passwordField is always treated as sensitive, regardless of configuration.
const passwordField = "password"

// Config defines the process-wide recorder configuration. It is read once at
// construction and never mutated afterwards.
type Config struct {
	TableName      string           // audit table identifier, may be schema-qualified
	RedactedFields []string         // field names replaced with RedactionMarker
	Logger         *logrus.Logger   // side channel for audit-write failures
	Metrics        *metrics.Metrics // optional counters
}

func (c Config) withDefaults() Config {
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// redactedSet returns the effective redaction set. The password field is
// unioned in unconditionally.
func (c Config) redactedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.RedactedFields)+1)
	for _, f := range c.RedactedFields {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = struct{}{}
		}
	}
	set[passwordField] = struct{}{}
	return set
}

// LoadConfig builds a Config from the environment.
//
//	AUDITRAIL_TABLE            audit table name
//	AUDITRAIL_REDACTED_FIELDS  comma-separated field names
func LoadConfig() Config {
	var cfg Config
	cfg.TableName = os.Getenv("AUDITRAIL_TABLE")
	if v := os.Getenv("AUDITRAIL_REDACTED_FIELDS"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				cfg.RedactedFields = append(cfg.RedactedFields, f)
			}
		}
	}
	return cfg.withDefaults()
}
