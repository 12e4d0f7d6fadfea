// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Config selects kernel policies. The zero Config is the default:
// priority scheduling, donation chains up to DefaultDonationDepth
// hops, and PriDefault for threads that do not ask for a priority.
type Config struct {
	Scheduler        string `yaml:"scheduler"`          // "priority" or "fcfs"
	MaxDonationDepth int    `yaml:"max_donation_depth"` // 1 disables chained donation
	DefaultPriority  uint32 `yaml:"default_priority"`
}

// ParseConfig parses a YAML kernel configuration.
// Unknown keys are an error.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("kernel config: %v", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) check() error {
	switch cfg.Scheduler {
	case "", "priority", "fcfs":
	default:
		return fmt.Errorf("kernel config: unknown scheduler %q", cfg.Scheduler)
	}
	if cfg.MaxDonationDepth < 0 {
		return fmt.Errorf("kernel config: negative max_donation_depth %d", cfg.MaxDonationDepth)
	}
	if cfg.DefaultPriority > PriMax {
		return fmt.Errorf("kernel config: default_priority %d out of range", cfg.DefaultPriority)
	}
	return nil
}
