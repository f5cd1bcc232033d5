package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {
			"symbols": ["ACME", "GLOBO"],
			"tickInterval": 60000000000,
			"startingCash": 1000000,
			"weightsPath": "data/weights.json"
		},
		"risk": {
			"limits": {"maxPositionPct": 0.1, "maxLeverage": 1.2, "maxVarPct": 0.04},
			"varConfidence": 0.95
		},
		"compliance": {
			"restricted": ["EVIL"],
			"maxPositionPct": 0.2
		},
		"execution": {"maxRetries": 3},
		"council": {"quorum": 2},
		"audit": {"dir": "data/audit"},
		"storage": {"snapshotPath": "data/ledger.json"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Runtime.Symbols) != 2 {
		t.Fatalf("symbols: %v", cfg.Runtime.Symbols)
	}
	if cfg.Risk.Limits.MaxLeverage != 1.2 {
		t.Fatalf("max leverage: %v", cfg.Risk.Limits.MaxLeverage)
	}
	if len(cfg.Compliance.Restricted) != 1 || cfg.Compliance.Restricted[0] != "EVIL" {
		t.Fatalf("restricted: %v", cfg.Compliance.Restricted)
	}
	if cfg.Council.Quorum != 2 {
		t.Fatalf("quorum: %d", cfg.Council.Quorum)
	}
}

func TestLoadAcceptsDurationStrings(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {
			"symbols": ["ACME"],
			"tickInterval": "45s",
			"startingCash": 1000
		},
		"execution": {"backoffBase": "250ms"},
		"audit": {"dir": "data/audit", "flushInterval": "5s", "segmentMaxDuration": "12h"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime.TickInterval != 45*time.Second {
		t.Fatalf("tick interval: %v", cfg.Runtime.TickInterval)
	}
	if cfg.Execution.BackoffBase != 250*time.Millisecond {
		t.Fatalf("backoff base: %v", cfg.Execution.BackoffBase)
	}
	if cfg.Audit.FlushInterval != 5*time.Second {
		t.Fatalf("flush interval: %v", cfg.Audit.FlushInterval)
	}
	if cfg.Audit.SegmentMaxDuration != 12*time.Hour {
		t.Fatalf("segment max duration: %v", cfg.Audit.SegmentMaxDuration)
	}
}

func TestLoadRejectsBadDurationString(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {"symbols": ["ACME"], "tickInterval": "fast", "startingCash": 1000}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("unparseable duration must fail load")
	}
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	path := writeConfig(t, `{"runtime": {"symbols": [], "startingCash": 1000}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("empty symbols must fail validation")
	}
}

func TestLoadRejectsDuplicateSymbols(t *testing.T) {
	path := writeConfig(t, `{"runtime": {"symbols": ["ACME", "ACME"], "startingCash": 1000}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("duplicate symbols must fail validation")
	}
}

func TestLoadRejectsMissingCash(t *testing.T) {
	path := writeConfig(t, `{"runtime": {"symbols": ["ACME"]}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("missing starting cash must fail validation")
	}
}

func TestLoadRejectsTelegramWithoutChat(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {"symbols": ["ACME"], "startingCash": 1000},
		"alert": {"telegramToken": "123:abc"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("telegram token without chat id must fail validation")
	}
}

func TestLoadRejectsBadVaRConfidence(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {"symbols": ["ACME"], "startingCash": 1000},
		"risk": {"varConfidence": 1.5}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("var confidence outside (0,1) must fail validation")
	}
}
