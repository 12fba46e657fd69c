package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// alertWriter is a zerolog sink that copies high-severity entries to an
// operator-facing writer as one compact line each. Entries over the rate
// limit are dropped so a flapping handler cannot flood the terminal.
type alertWriter struct {
	mu      sync.Mutex
	out     io.Writer
	min     zerolog.Level
	limiter *rate.Limiter
	dropped uint64
}

func newAlertWriter(out io.Writer) *alertWriter {
	return &alertWriter{out: out, min: zerolog.WarnLevel, limiter: rate.NewLimiter(1, 1)}
}

func (w *alertWriter) configure(min zerolog.Level, ratePerSec int) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	w.mu.Lock()
	w.min = min
	w.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	w.mu.Unlock()
}

func (w *alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if level < w.min {
		return len(p), nil
	}
	if !w.limiter.Allow() {
		w.dropped++
		return len(p), nil
	}
	line := formatAlert(p)
	if w.dropped > 0 {
		line = fmt.Sprintf("%s (suppressed=%d)", line, w.dropped)
		w.dropped = 0
	}
	_, _ = io.WriteString(w.out, line+"\n")
	return len(p), nil
}

// formatAlert renders a zerolog JSON line as "[LEVEL] msg k=v ...".
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 1000)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 200))
	}
	return truncate(b.String(), 1000)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
