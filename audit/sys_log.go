package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
)

var _ Logger = (*SyslogLogger)(nil)

type SyslogOptions struct {
	Network  string `json:"network"`  // "tcp", "udp", "" for local
	Address  string `json:"address"`  // "localhost:514"
	Priority int    `json:"priority"` // syslog.LOG_INFO etc.
	Tag      string `json:"tag"`
}

// SyslogLogger forwards events to a local or remote syslog daemon. Syslog is
// write-only; querying goes through whatever stores the daemon's output.
type SyslogLogger struct {
	userID     string
	logLevel   string
	syslogOpts SyslogOptions
	writer     *syslog.Writer
}

func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var syslogOpts SyslogOptions
	if err := parseOptions(config.Options, &syslogOpts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}
	if syslogOpts.Priority == 0 {
		switch config.LogLevel {
		case "error":
			syslogOpts.Priority = int(syslog.LOG_ERR | syslog.LOG_USER)
		case "warn":
			syslogOpts.Priority = int(syslog.LOG_WARNING | syslog.LOG_USER)
		default:
			syslogOpts.Priority = int(syslog.LOG_INFO | syslog.LOG_USER)
		}
	}
	if syslogOpts.Tag == "" {
		syslogOpts.Tag = "citadel-audit"
	}

	var writer *syslog.Writer
	var err error
	if syslogOpts.Network != "" && syslogOpts.Address != "" {
		writer, err = syslog.Dial(syslogOpts.Network, syslogOpts.Address,
			syslog.Priority(syslogOpts.Priority), syslogOpts.Tag)
	} else {
		writer, err = syslog.New(syslog.Priority(syslogOpts.Priority), syslogOpts.Tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create syslog writer: %w", err)
	}

	return &SyslogLogger{
		userID:     config.UserID,
		logLevel:   config.LogLevel,
		syslogOpts: syslogOpts,
		writer:     writer,
	}, nil
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return s.writeEvent(newEvent(s.userID, action, success, metadata))
}

func (s *SyslogLogger) writeEvent(event Event) error {
	if s.writer == nil {
		return fmt.Errorf("syslog writer not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	msg := fmt.Sprintf("CITADEL_AUDIT: %s", raw)

	switch {
	case !event.Success:
		return s.writer.Warning(msg)
	case s.logLevel == "error" || s.logLevel == "warn":
		// Successes are suppressed at these levels.
		return nil
	default:
		return s.writer.Info(msg)
	}
}

func (s *SyslogLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("syslog logger does not support querying")
}

func (s *SyslogLogger) Close() error {
	if s.writer != nil {
		err := s.writer.Close()
		s.writer = nil
		return err
	}
	return nil
}
