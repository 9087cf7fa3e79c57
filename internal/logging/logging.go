package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// UnmarshalText accepts the names ParseLevel accepts.
func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel maps a configured level name to a Level. Unknown names are
// Info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Generation tags a line with the rebuild generation it belongs to.
func Generation(generation uint64) Field {
	return Field{Key: "generation", Value: generation}
}

// Component tags a line with a flattened component name.
func Component(name fmt.Stringer) Field {
	return Field{Key: "component_name", Value: name}
}

// Session tags a line with a chooser session id.
func Session(id string) Field {
	return Field{Key: "session", Value: id}
}

// NewSessionID returns an identifier for one chooser session. Ranking
// services and log lines of the same session share it.
func NewSessionID() string {
	return uuid.NewString()
}

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
}

// sink is the writer shared by a logger and every logger derived from it
// with With.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(line)
}

// lineLogger writes one logfmt line per call. prefix holds the encoded
// fields added with With.
type lineLogger struct {
	sink   *sink
	level  Level
	prefix []byte
}

// New returns a logger writing logfmt lines at level and above to out,
// or to stderr when out is nil.
func New(out io.Writer, level Level) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &lineLogger{sink: &sink{out: out, now: time.Now}, level: level}
}

func Nop() Logger { return nopLogger{} }

// OrNop returns logger, or a discarding logger when logger is nil.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

func (l *lineLogger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *lineLogger) With(fields ...Field) Logger {
	if l == nil {
		return Nop()
	}
	prefix := make([]byte, len(l.prefix), len(l.prefix)+16*len(fields))
	copy(prefix, l.prefix)
	return &lineLogger{sink: l.sink, level: l.level, prefix: appendFields(prefix, fields)}
}

func (l *lineLogger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields) }
func (l *lineLogger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields) }
func (l *lineLogger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields) }
func (l *lineLogger) Error(msg string, fields ...Field) { l.log(Error, msg, fields) }

var linePool = sync.Pool{New: func() any { b := make([]byte, 0, 256); return &b }}

func (l *lineLogger) log(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}
	bp := linePool.Get().(*[]byte)
	line := (*bp)[:0]
	line = append(line, "ts="...)
	line = l.sink.now().UTC().AppendFormat(line, time.RFC3339Nano)
	line = append(line, " level="...)
	line = append(line, level.String()...)
	line = append(line, " msg="...)
	line = appendString(line, msg)
	line = append(line, l.prefix...)
	line = appendFields(line, fields)
	line = append(line, '\n')
	l.sink.write(line)
	*bp = line
	linePool.Put(bp)
}

func appendFields(dst []byte, fields []Field) []byte {
	for _, field := range fields {
		dst = append(dst, ' ')
		dst = append(dst, field.Key...)
		dst = append(dst, '=')
		dst = appendValue(dst, field.Value)
	}
	return dst
}

func appendValue(dst []byte, value any) []byte {
	switch v := value.(type) {
	case nil:
		return append(dst, "null"...)
	case string:
		return appendString(dst, v)
	case []byte:
		return appendString(dst, string(v))
	case error:
		return appendString(dst, v.Error())
	case time.Duration:
		return append(dst, v.String()...)
	case fmt.Stringer:
		return appendString(dst, v.String())
	case bool:
		return strconv.AppendBool(dst, v)
	case int:
		return strconv.AppendInt(dst, int64(v), 10)
	case int32:
		return strconv.AppendInt(dst, int64(v), 10)
	case int64:
		return strconv.AppendInt(dst, v, 10)
	case uint:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint32:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint64:
		return strconv.AppendUint(dst, v, 10)
	case float32:
		return strconv.AppendFloat(dst, float64(v), 'g', -1, 32)
	case float64:
		return strconv.AppendFloat(dst, v, 'g', -1, 64)
	default:
		return appendString(dst, fmt.Sprintf("%v", v))
	}
}

// appendString writes s bare when logfmt allows it and quoted otherwise.
func appendString(dst []byte, s string) []byte {
	if s == "" {
		return append(dst, `""`...)
	}
	if needsQuote(s) {
		return strconv.AppendQuote(dst, s)
	}
	return append(dst, s...)
}

func needsQuote(s string) bool {
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' || r == utf8.RuneError {
			return true
		}
	}
	return false
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
func (nopLogger) With(...Field) Logger   { return nopLogger{} }
func (nopLogger) Enabled(Level) bool     { return false }
