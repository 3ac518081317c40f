package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_WritesJSONWithServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: LogFormatJSON, OutputPath: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Debug("filtered out")
	logger.Info("migration completed", zap.String("migration_id", "m-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one entry above the level, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not json: %v", err)
	}
	if entry["service"] != serviceName || entry["migration_id"] != "m-1" || entry["msg"] != "migration completed" {
		t.Errorf("unexpected entry %v", entry)
	}
	if ts, _ := entry["ts"].(string); !strings.Contains(ts, "T") {
		t.Errorf("expected an ISO8601 timestamp, got %v", entry["ts"])
	}
}

func TestNewLogger_RejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  LoggingConfig
		want string
	}{
		{"level", LoggingConfig{Level: "loud", Format: LogFormatJSON}, "invalid log level"},
		{"format", LoggingConfig{Level: "info", Format: "xml"}, "invalid log format"},
		{"output", LoggingConfig{Level: "info", Format: LogFormatConsole, OutputPath: filepath.Join(t.TempDir(), "missing", "relay.log")}, "failed to open log output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUniverseLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	UniverseLogger(zap.New(core), &UniverseConfig{ID: "moonbase", ChainID: 1287}).Info("connected")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].LoggerName != "moonbase" || fields["universe"] != "moonbase" || fields["chain_id"] != int64(1287) {
		t.Errorf("unexpected scope %q %v", entries[0].LoggerName, fields)
	}
}
