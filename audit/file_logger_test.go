package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		UserID:  "tester",
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path},
	})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	logger, path := newTestFileLogger(t)

	if err := logger.Log("write_record", true, map[string]interface{}{"vault": "app"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log("revoke_record", false, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log file has %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"action":"write_record"`) {
		t.Fatalf("first line missing action: %s", lines[0])
	}
	if !strings.Contains(lines[0], `"user_id":"tester"`) {
		t.Fatalf("first line missing user id: %s", lines[0])
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("audit log mode is %o, want 0600", info.Mode().Perm())
	}
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	if err := logger.Log("write_record", true, map[string]interface{}{"vault": "app", "record": "r1"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log("write_record", true, map[string]interface{}{"vault": "other"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log("read_record", false, map[string]interface{}{"vault": "app"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.TotalCount != 3 || result.Filtered != 3 || len(result.Events) != 3 {
		t.Fatalf("unfiltered query = %+v", result)
	}

	result, err = logger.Query(QueryOptions{Action: "write_record"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 2 {
		t.Fatalf("action filter matched %d, want 2", result.Filtered)
	}

	result, err = logger.Query(QueryOptions{Vault: "app"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 2 {
		t.Fatalf("vault filter matched %d, want 2", result.Filtered)
	}

	result, err = logger.Query(QueryOptions{Record: "r1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 1 {
		t.Fatalf("record filter matched %d, want 1", result.Filtered)
	}

	failed := false
	result, err = logger.Query(QueryOptions{Success: &failed})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 1 || result.Events[0].Action != "read_record" {
		t.Fatalf("success filter = %+v", result)
	}

	future := time.Now().Add(time.Hour)
	result, err = logger.Query(QueryOptions{Since: &future})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 0 {
		t.Fatalf("future since matched %d events", result.Filtered)
	}
}

func TestFileLoggerQueryPaging(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	for i := 0; i < 5; i++ {
		if err := logger.Log("gc", true, nil); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	result, err := logger.Query(QueryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Events) != 2 || result.Filtered != 5 || !result.HasMore {
		t.Fatalf("limited query = %+v", result)
	}

	result, err = logger.Query(QueryOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Events) != 1 || result.HasMore {
		t.Fatalf("offset query = %+v", result)
	}

	result, err = logger.Query(QueryOptions{Offset: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("past-the-end offset returned %d events", len(result.Events))
	}
}

func TestFileLoggerQueryMissingFile(t *testing.T) {
	logger, path := newTestFileLogger(t)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.Fatalf("Remove failed: %v", err)
	}

	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query on missing file failed: %v", err)
	}
	if result.TotalCount != 0 || len(result.Events) != 0 {
		t.Fatalf("missing file query = %+v", result)
	}
}

func TestFileLoggerSkipsTornLines(t *testing.T) {
	logger, path := newTestFileLogger(t)
	if err := logger.Log("gc", true, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	// Simulate a crash mid-write: a partial JSON object on the last line.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err = f.WriteString(`{"id":"torn`); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	_ = f.Close()

	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("query returned %d events, want 1", len(result.Events))
	}
}

func TestFileLoggerReopensAfterClose(t *testing.T) {
	logger, _ := newTestFileLogger(t)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Log("late_event", true, nil); err != nil {
		t.Fatalf("Log after Close failed: %v", err)
	}

	result, err := logger.Query(QueryOptions{Action: "late_event"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 1 {
		t.Fatalf("late event not recorded: %+v", result)
	}
}

func TestFileLoggerRequiresPath(t *testing.T) {
	_, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType})
	if err == nil {
		t.Fatal("NewFileLogger accepted missing file_path")
	}
}
