// Package logs is scribechain's logging backend: one named sub-logger per
// subsystem, all writing through a single shared sink that goes to stdout
// and, once InitLogRotator is called, to a rotating on-disk file via
// github.com/jrick/logrotate/rotator.
package logs

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Level is a logging verbosity level, ordered least to most severe.
type Level uint32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

var levelNames = map[Level]string{
	LevelTrace: "TRC",
	LevelDebug: "DBG",
	LevelInfo:  "INF",
	LevelWarn:  "WRN",
	LevelError: "ERR",
	LevelOff:   "OFF",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNK"
}

// backend is the shared sink every subsystem Logger writes through. Every
// Logger obtained from Get shares it; InitLogRotator must be called once at
// startup before subsystem logs should reach disk.
var backend = &struct {
	out     io.Writer
	minimum uint32 // atomic Level
}{out: os.Stdout, minimum: uint32(LevelInfo)}

// InitLogRotator points the shared backend at a rotating on-disk file in
// addition to stdout. Must be called once, early, before subsystem loggers
// are used in earnest; logging before this call simply goes to stdout only.
func InitLogRotator(logFile string, maxRolls int) error {
	r, err := newFileRotator(logFile, maxRolls)
	if err != nil {
		return err
	}
	backend.out = io.MultiWriter(os.Stdout, r)
	return nil
}

// SetLevel adjusts the minimum level written across every subsystem logger.
func SetLevel(l Level) {
	atomic.StoreUint32(&backend.minimum, uint32(l))
}

// Logger is one subsystem's named handle onto the shared backend, e.g.
// CHST (chain store), MINR (miner), PEER (p2p), RPCS (rpc), NODE (node
// assembly).
type Logger struct {
	tag string
}

// Get returns the named subsystem logger. Subsystem tags are conventionally
// four uppercase letters, though this isn't enforced.
func Get(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) log(lvl Level, format string, args []interface{}) {
	if lvl < Level(atomic.LoadUint32(&backend.minimum)) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	fmt.Fprintf(backend.out, "%s [%s] %s %s\n", time.Now().UTC().Format(time.RFC3339), lvl, l.tag, msg)
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.log(LevelTrace, format, args) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args) }

func (l *Logger) Trace(msg string) { l.log(LevelTrace, msg, nil) }
func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg, nil) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg, nil) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil) }
