package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxLogFiles is the spec §6 retention limit: one log file per process
// start, oldest deleted once the count exceeds this.
const maxLogFiles = 10

// ParseLogLevel maps the spec's server.log_level vocabulary onto slog's.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// SetupProcessLogging opens a new timestamped log file under logsDir (with
// a microsecond suffix, so two processes started in the same second never
// collide), prunes older files beyond maxLogFiles, and installs an slog
// default logger that writes to both the file and stderr. It returns the
// opened file so the caller can close it on shutdown.
func SetupProcessLogging(logsDir string, level slog.Level) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("observability: mkdir logs dir: %w", err)
	}

	name := fmt.Sprintf("chameleon-%s.log", time.Now().UTC().Format("20060102-150405.000000"))
	path := filepath.Join(logsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("observability: open log file: %w", err)
	}

	if err := pruneOldLogs(logsDir); err != nil {
		slog.Warn("observability: log pruning failed", "error", err)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(f, os.Stderr), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return f, nil
}

// pruneOldLogs keeps at most maxLogFiles files, counting the one just
// opened, deleting the oldest by name — the timestamp-prefixed filename
// sorts chronologically.
func pruneOldLogs(logsDir string) error {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "chameleon-") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	excess := len(names) - maxLogFiles
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(logsDir, names[i])); err != nil {
			return err
		}
	}
	return nil
}
