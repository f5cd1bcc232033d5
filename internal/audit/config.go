package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"main/pkg/timex"
)

const (
	defaultSegmentMaxBytes int64 = 64 << 20
	defaultQueueSize             = 4096
	defaultFilePrefix            = "audit"
)

var defaultSegmentMaxDuration = 24 * time.Hour

// Config controls the audit recorder.
type Config struct {
	Dir                string        `json:"dir"`
	SegmentMaxBytes    int64         `json:"segmentMaxBytes"`
	SegmentMaxDuration time.Duration `json:"segmentMaxDuration"`
	QueueSize          int           `json:"queueSize"`
	FilePrefix         string        `json:"filePrefix"`
	FlushInterval      time.Duration `json:"flushInterval"`
}

// DefaultConfig returns a baseline configuration for the recorder.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		FilePrefix:         defaultFilePrefix,
	}
}

// UnmarshalJSON accepts the duration fields as "24h" style strings or raw
// nanosecond numbers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		SegmentMaxDuration timex.Duration `json:"segmentMaxDuration"`
		FlushInterval      timex.Duration `json:"flushInterval"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.SegmentMaxDuration = aux.SegmentMaxDuration.Std()
	c.FlushInterval = aux.FlushInterval.Std()
	return nil
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.SegmentMaxDuration == 0 {
		c.SegmentMaxDuration = defaultSegmentMaxDuration
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid audit config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid audit config: SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid audit config: QueueSize must be > 0")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("invalid audit config: FlushInterval must be >= 0")
	}
	return nil
}
