package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/audit"
	"main/internal/compliance"
	"main/internal/council"
	"main/internal/execution"
	"main/internal/risk"
	"main/pkg/timex"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Runtime    RuntimeConfig     `json:"runtime"`
	Risk       RiskConfig        `json:"risk"`
	Compliance compliance.Policy `json:"compliance"`
	Execution  execution.Config  `json:"execution"`
	Council    council.Config    `json:"council"`
	Audit      audit.Config      `json:"audit"`
	Storage    StorageConfig     `json:"storage"`
	Alert      AlertConfig       `json:"alert"`
	Profiling  ProfilingConfig   `json:"profiling"`
}

// RuntimeConfig defines the director loop parameters.
type RuntimeConfig struct {
	Symbols      []string      `json:"symbols"`
	TickInterval time.Duration `json:"tickInterval"` // "1m" style string or nanoseconds
	StartingCash float64       `json:"startingCash"`
	WeightsPath  string        `json:"weightsPath"`
	FailureHalt  int           `json:"failureHalt"` // consecutive execution failures before halt
}

// UnmarshalJSON accepts tickInterval as a "1m" style string or a raw
// nanosecond number.
func (c *RuntimeConfig) UnmarshalJSON(data []byte) error {
	type plain RuntimeConfig
	aux := struct {
		TickInterval timex.Duration `json:"tickInterval"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.TickInterval = aux.TickInterval.Std()
	return nil
}

// RiskConfig bundles the limit and monitor settings.
type RiskConfig struct {
	Limits        risk.Limits        `json:"limits"`
	Monitor       risk.MonitorConfig `json:"monitor"`
	VaRWindow     int                `json:"varWindow"`
	VaRLookback   int                `json:"varLookback"`
	VaRConfidence float64            `json:"varConfidence"`
}

// StorageConfig selects where ledger snapshots persist. Postgres wins when
// both are set.
type StorageConfig struct {
	SnapshotPath string          `json:"snapshotPath"`
	Postgres     *PostgresConfig `json:"postgres,omitempty"`
}

// PostgresConfig defines the optional database backend.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// AlertConfig defines the optional Telegram notifier.
type AlertConfig struct {
	TelegramToken  string `json:"telegramToken"`
	TelegramChatID int64  `json:"telegramChatId"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// Load reads and validates a JSON config file.
func Load(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c FileConfig) Validate() error {
	if len(c.Runtime.Symbols) == 0 {
		return fmt.Errorf("invalid config: runtime.symbols is empty")
	}
	seen := make(map[string]struct{}, len(c.Runtime.Symbols))
	for _, symbol := range c.Runtime.Symbols {
		if symbol == "" {
			return fmt.Errorf("invalid config: empty symbol in runtime.symbols")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("invalid config: duplicate symbol %q", symbol)
		}
		seen[symbol] = struct{}{}
	}
	if c.Runtime.StartingCash <= 0 {
		return fmt.Errorf("invalid config: runtime.startingCash must be > 0")
	}
	if c.Runtime.TickInterval < 0 {
		return fmt.Errorf("invalid config: runtime.tickInterval must be >= 0")
	}
	if c.Runtime.FailureHalt < 0 {
		return fmt.Errorf("invalid config: runtime.failureHalt must be >= 0")
	}
	if c.Risk.VaRConfidence != 0 && (c.Risk.VaRConfidence <= 0 || c.Risk.VaRConfidence >= 1) {
		return fmt.Errorf("invalid config: risk.varConfidence must be in (0, 1)")
	}
	if c.Storage.Postgres != nil && c.Storage.Postgres.Database == "" {
		return fmt.Errorf("invalid config: storage.postgres.database is empty")
	}
	if c.Alert.TelegramToken != "" && c.Alert.TelegramChatID == 0 {
		return fmt.Errorf("invalid config: alert.telegramChatId required with a token")
	}
	if c.Profiling.Enable && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("invalid config: profiling.serverAddress required when enabled")
	}
	if c.Audit.Dir != "" {
		if err := c.Audit.Validate(); err != nil {
			return err
		}
	}
	return nil
}
