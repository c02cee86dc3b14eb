package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by Normalized when the corresponding field is zero.
const (
	DefaultMaxConcurrentTasks = 8
	DefaultEventTopic         = "procflow.events"
)

// Config groups the engine tuning knobs. The zero value is usable: Normalized
// fills in defaults for anything left unset.
type Config struct {
	// MaxConcurrentTasks caps how many task handlers a single instance may run
	// at once. Zero falls back to DefaultMaxConcurrentTasks.
	MaxConcurrentTasks int

	// DefaultTaskTimeout bounds each handler invocation. Zero disables the
	// timeout; individual tasks may still override it in their definition.
	DefaultTaskTimeout time.Duration

	// EventTopic is the topic lifecycle events are published on when an event
	// publisher is configured. Empty falls back to DefaultEventTopic.
	EventTopic string

	// SnapshotOnFinish captures a final snapshot when an instance reaches a
	// terminal state, retrievable from the instance handle.
	SnapshotOnFinish bool

	// LogDataContext includes the instance data context in debug logs. Off by
	// default since contexts can carry sensitive payloads.
	LogDataContext bool
}

// Normalized returns a copy with defaults filled in for zero-valued fields.
func (c Config) Normalized() Config {
	out := c
	if out.MaxConcurrentTasks == 0 {
		out.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if out.EventTopic == "" {
		out.EventTopic = DefaultEventTopic
	}
	return out
}

// Validate checks the configuration for values the engine cannot work with.
// Returns an error describing every invalid field, not just the first.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateConcurrency()...)
	errs = append(errs, c.validateTimeouts()...)

	return errors.Join(errs...)
}

func (c *Config) validateConcurrency() []error {
	if c.MaxConcurrentTasks < 0 {
		return []error{fmt.Errorf("concurrency: max concurrent tasks cannot be negative, got %d", c.MaxConcurrentTasks)}
	}
	return nil
}

func (c *Config) validateTimeouts() []error {
	if c.DefaultTaskTimeout < 0 {
		return []error{fmt.Errorf("timeout: default task timeout cannot be negative, got %s", c.DefaultTaskTimeout)}
	}
	return nil
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
