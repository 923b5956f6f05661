// Package audit provides a pluggable trail of security-relevant engine
// events. Events record operation metadata only; no plaintext, key material
// or passphrase ever reaches a logger.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config selects and configures an audit backend.
type Config struct {
	Enabled  bool                   `json:"enabled"`
	UserID   string                 `json:"user_id"`
	Type     ConfigType             `json:"type"`
	Options  map[string]interface{} `json:"options"` // backend-specific
	LogLevel string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Logger is the interface engine components log through. Implementations
// must be safe for concurrent use.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event is one audit trail entry.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// QueryOptions filters an audit trail query. Nil or zero fields match
// everything.
type QueryOptions struct {
	Since   *time.Time
	Until   *time.Time
	Action  string
	Success *bool // nil = all, true = only successes, false = only failures
	Vault   string
	Record  string
	Limit   int
	Offset  int
}

// QueryResult is a page of matching events, newest first.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates a logger from configuration. Disabled or nil
// configuration yields the no-op logger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}
	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit backend: %s", config.Type)
	}
}

// parseOptions maps the free-form options into a backend's options struct
// via a JSON round trip.
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}

func newEvent(userID, action string, success bool, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
}

// matchesFilter checks one event against the query filters.
func matchesFilter(event Event, options QueryOptions) bool {
	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}
	if options.Action != "" && event.Action != options.Action {
		return false
	}
	if options.Success != nil && event.Success != *options.Success {
		return false
	}
	if options.Vault != "" && metadataString(event, "vault") != options.Vault {
		return false
	}
	if options.Record != "" && metadataString(event, "record") != options.Record {
		return false
	}
	return true
}

func metadataString(event Event, key string) string {
	if event.Metadata == nil {
		return ""
	}
	if s, ok := event.Metadata[key].(string); ok {
		return s
	}
	return ""
}
