package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/raumlabs/hostbridge/internal/update"
)

// FieldError describes one invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError collects every invalid field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate fills zero-value defaults and reports invalid fields as a *ValidationError.
func (c *Config) Validate() error {
	var errs []FieldError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	u := &c.Update
	if u.Source == "" {
		u.Source = string(update.SourceHTTP)
	}
	if u.Mode == "" {
		u.Mode = string(update.ModeSilent)
	}
	if !update.Source(u.Source).Valid() {
		add("update.source", "must be %q or %q, got %q", update.SourceHTTP, update.SourceGit, u.Source)
	}
	if !update.Mode(u.Mode).Valid() {
		add("update.mode", "must be silent, widget or splash, got %q", u.Mode)
	}
	if u.StartDelayMs < 0 {
		add("update.start_delay_ms", "must not be negative")
	}
	if _, err := update.ComparatorByName(u.Comparator); err != nil {
		add("update.comparator", "%v", err)
	}
	if u.HistoryKeep < 0 {
		add("update.history_keep", "must not be negative")
	}
	if u.URL != "" {
		switch update.Source(u.Source) {
		case update.SourceHTTP:
			if parsed, err := url.Parse(u.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
				add("update.url", "must be an absolute URL for source http")
			}
		case update.SourceGit:
			if parts := strings.Split(u.URL, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				add("update.url", "must be owner/repo for source git")
			}
		}
	}

	if c.Bridge.OutboxSize <= 0 {
		c.Bridge.OutboxSize = defaultOutboxSize
	}

	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}

	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.OTLPEndpoint == "" {
			add("observability.tracing.otlp_endpoint", "required when tracing is enabled")
		}
		if r := c.Observability.Tracing.SampleRate; r < 0 || r > 1 {
			add("observability.tracing.sample_rate", "must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
