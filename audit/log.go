package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG - Append-only decision trail
// ═══════════════════════════════════════════════════════════════════════════════
//
// Line format: <iso8601>\t<subject>\t<action>\t<details-json>\n
// Entries older than the retention window are evicted on Cleanup.
//
// ═══════════════════════════════════════════════════════════════════════════════

const retention = 30 * 24 * time.Hour

// Logger appends timestamped decision lines to a single file.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens (or creates) the audit log append-only.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{path: path, file: f}, nil
}

// Append writes one decision line. Details are JSON-encoded.
func (l *Logger) Append(subject, action string, details any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte(`{"marshal_error":true}`)
	}

	line := fmt.Sprintf("%s\t%s\t%s\t%s\n",
		time.Now().UTC().Format(time.RFC3339), subject, action, payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(line); err != nil {
		log.Error().Err(err).Str("path", l.path).Msg("Audit append failed")
	}
}

// Cleanup drops entries older than 30 days, rewriting via temp-then-rename.
func (l *Logger) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := os.Open(l.path)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-retention)
	tmpPath := l.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		src.Close()
		return err
	}

	kept, dropped := 0, 0
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		ts, _, ok := strings.Cut(line, "\t")
		if ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil && t.Before(cutoff) {
				dropped++
				continue
			}
		}
		fmt.Fprintln(tmp, line)
		kept++
	}
	src.Close()
	if err := tmp.Close(); err != nil {
		return err
	}

	l.file.Close()
	if err := os.Rename(tmpPath, l.path); err != nil {
		return err
	}
	l.file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	if dropped > 0 {
		log.Info().Int("kept", kept).Int("dropped", dropped).Msg("Audit log compacted")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
