package auditrail

import (
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.TableName != DefaultTableName {
		t.Fatalf("TableName = %q, want %q", cfg.TableName, DefaultTableName)
	}
	if cfg.Logger == nil {
		t.Fatal("Logger not defaulted")
	}
}

func TestConfigRedactedSet(t *testing.T) {
	set := Config{RedactedFields: []string{"ssn", " api_key ", ""}}.redactedSet()
	for _, want := range []string{"ssn", "api_key", "password"} {
		if _, ok := set[want]; !ok {
			t.Fatalf("redactedSet() missing %q: %#v", want, set)
		}
	}
	if len(set) != 3 {
		t.Fatalf("redactedSet() = %#v, want 3 entries", set)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUDITRAIL_TABLE", "ops.audit_trail")
	t.Setenv("AUDITRAIL_REDACTED_FIELDS", "ssn, token ,")

	cfg := LoadConfig()
	if cfg.TableName != "ops.audit_trail" {
		t.Fatalf("TableName = %q", cfg.TableName)
	}
	want := []string{"ssn", "token"}
	if len(cfg.RedactedFields) != len(want) {
		t.Fatalf("RedactedFields = %#v, want %#v", cfg.RedactedFields, want)
	}
	for i, f := range want {
		if cfg.RedactedFields[i] != f {
			t.Fatalf("RedactedFields = %#v, want %#v", cfg.RedactedFields, want)
		}
	}
}
