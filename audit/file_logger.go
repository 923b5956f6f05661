package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileLogger appends events to a JSON-lines file, one object per line, and
// answers queries by scanning it back. Every write is synced so an abrupt
// termination loses at most the event being written.
type FileLogger struct {
	userID   string
	fileOpts FileOptions

	mu   sync.Mutex
	file *os.File
}

type FileOptions struct {
	FilePath string `json:"file_path"`
}

// NewFileLogger opens (or creates) the configured audit log file for
// appending.
func NewFileLogger(config *Config) (*FileLogger, error) {
	var fileOpts FileOptions
	if err := parseOptions(config.Options, &fileOpts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}
	if fileOpts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}

	if err := os.MkdirAll(filepath.Dir(fileOpts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		userID:   config.UserID,
		fileOpts: fileOpts,
		file:     file,
	}, nil
}

func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return fl.writeEvent(newEvent(fl.userID, action, success, metadata))
}

func (fl *FileLogger) writeEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// The logger can outlive the manager that closed it; reopen on demand.
	if fl.file == nil {
		file, err := os.OpenFile(fl.fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to reopen audit log: %w", err)
		}
		fl.file = file
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	if _, err = fl.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err = fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// Query scans the log file and returns matching events, newest first.
func (fl *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	file, err := os.Open(fl.fileOpts.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return QueryResult{}, nil
		}
		return QueryResult{}, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var matched []Event
	totalCount := 0

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		totalCount++

		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			// A torn last line is possible after a crash; skip it.
			continue
		}
		if matchesFilter(event, options) {
			matched = append(matched, event)
		}
	}
	if err = scanner.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("error reading audit log file: %w", err)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	filtered := len(matched)
	start := options.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	return QueryResult{
		Events:     matched[start:end],
		TotalCount: totalCount,
		Filtered:   filtered,
		HasMore:    end < filtered,
	}, nil
}

func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.file != nil {
		err := fl.file.Close()
		fl.file = nil
		return err
	}
	return nil
}
