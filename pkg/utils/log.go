package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// InitLogger sets up apex/log with a LineHandler writing to stderr.
// An empty level falls back to the build default ("debug" with -tags debug).
func InitLogger(level string) error {
	if level == "" {
		level = defaultLevel
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	log.SetHandler(NewLineHandler(os.Stderr))
	log.SetLevel(lvl)
	return nil
}

// LineHandler writes one line per entry: timestamp, level letter, message, fields.
type LineHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineHandler(w io.Writer) *LineHandler {
	return &LineHandler{w: w}
}

// HandleLog implements the log.Handler interface
func (h *LineHandler) HandleLog(e *log.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1s %s", e.Timestamp.Format("2006-01-02 15:04:05"), strings.ToUpper(e.Level.String()), e.Message)

	names := e.Fields.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Log(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Since is a small helper for duration fields.
func Since(start time.Time) string {
	return time.Since(start).Round(time.Microsecond).String()
}
