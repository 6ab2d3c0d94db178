// SPDX-License-Identifier: GPL-2.0-or-later

package mp4san

import (
	"errors"
	"fmt"

	"mediasan/pkg/mp4"

	"gopkg.in/yaml.v3"
)

// Unknown box policies.
const (
	UnknownPassthrough = "passthrough"
	UnknownReject      = "reject"
)

const defaultMaxInputSize = 64 << 20

// Config stores sanitizer configuration.
type Config struct {
	// MaxInputSize is the most bytes ParseReader will read.
	MaxInputSize int64 `yaml:"maxInputSize"`

	// MaxDepth limits box nesting.
	MaxDepth int `yaml:"maxDepth"`

	// UnknownBoxes is UnknownPassthrough or UnknownReject.
	UnknownBoxes string `yaml:"unknownBoxes"`

	// VerdictDB is a bbolt database path where the latest verdict
	// for each input is kept. Empty disables it.
	VerdictDB string `yaml:"verdictDB"`
}

// Config errors.
var (
	ErrInvalidUnknownBoxes = errors.New("invalid unknown box policy")
	ErrNegativeValue       = errors.New("value cannot be negative")
)

// DefaultConfig returns the configuration used by Parse and ParseReader.
func DefaultConfig() Config {
	return Config{
		MaxInputSize: defaultMaxInputSize,
		MaxDepth:     mp4.DefaultMaxDepth,
		UnknownBoxes: UnknownPassthrough,
	}
}

// NewConfig returns configuration decoded from configYAML,
// unset values are filled with defaults.
func NewConfig(configYAML []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(configYAML, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.fillAndValidate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) fillAndValidate() error {
	if c.MaxInputSize < 0 {
		return fmt.Errorf("maxInputSize %d: %w", c.MaxInputSize, ErrNegativeValue)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("maxDepth %d: %w", c.MaxDepth, ErrNegativeValue)
	}

	if c.MaxInputSize == 0 {
		c.MaxInputSize = defaultMaxInputSize
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = mp4.DefaultMaxDepth
	}
	if c.UnknownBoxes == "" {
		c.UnknownBoxes = UnknownPassthrough
	}

	switch c.UnknownBoxes {
	case UnknownPassthrough, UnknownReject:
	default:
		return fmt.Errorf("unknownBoxes '%v': %w", c.UnknownBoxes, ErrInvalidUnknownBoxes)
	}
	return nil
}
