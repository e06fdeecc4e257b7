package config

import (
	"encoding/json"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/pkg/errors"

	"bypasskv/internal/faults"
)

const (
	DefaultTable    = "BypassTestTable"
	DefaultFamily   = "f"
	DefaultTimeout  = 10 * time.Second
	DefaultCapacity = 1 << 16
)

// Networked is the connection configuration for running against a region
// server.
type Networked struct {
	Endpoint      string `json:"endpoint"`
	Table         string `json:"table"`
	Family        string `json:"family"`
	TimeoutMillis int    `json:"timeoutMillis"`
	Capacity      int    `json:"capacity"`
}

func (c Networked) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Table, validation.Required),
		validation.Field(&c.Family, validation.Required),
		validation.Field(&c.TimeoutMillis, validation.Min(0)),
		validation.Field(&c.Capacity, validation.Min(0)),
	)
}

func (c Networked) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// Load reads a networked configuration file. Every failure, from a missing
// path to an invalid field, is a *faults.ConfigFault.
func Load(path string) (Networked, error) {
	if path == "" {
		return Networked{}, &faults.ConfigFault{Path: path, Cause: errors.New("no configuration path given")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Networked{}, &faults.ConfigFault{Path: path, Cause: errors.WithStack(err)}
	}
	return Parse(path, data)
}

// Parse decodes configuration bytes, filling in the table and family
// defaults. path is only used in error messages.
func Parse(path string, data []byte) (Networked, error) {
	cfg := Networked{Table: DefaultTable, Family: DefaultFamily}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Networked{}, &faults.ConfigFault{Path: path, Cause: errors.Wrap(err, "decode")}
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if err := cfg.Validate(); err != nil {
		return Networked{}, &faults.ConfigFault{Path: path, Cause: errors.Wrap(err, "validate")}
	}
	return cfg, nil
}
