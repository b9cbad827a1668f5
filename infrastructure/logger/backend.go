package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

const normalLogSize = 512

// callsiteFlags is a variable initialization rather than an init function
// because package-level Logger variables are initialized from it.
var callsiteFlags = flagsFromEnvironment()

// Flags modifying how a Backend formats the logging callsite.
const (
	// LogFlagLongFile includes the full path and line of the callsite,
	// e.g. /a/b/c/main.go:123.
	LogFlagLongFile uint32 = 1 << iota

	// LogFlagShortFile includes only the file name and line,
	// e.g. main.go:123. Takes precedence over LogFlagLongFile.
	LogFlagShortFile
)

// flagsFromEnvironment reads the comma separated LOGFLAGS environment
// variable.
func flagsFromEnvironment() (flags uint32) {
	for _, f := range strings.Split(os.Getenv("LOGFLAGS"), ",") {
		switch f {
		case "longfile":
			flags |= LogFlagLongFile
		case "shortfile":
			flags |= LogFlagShortFile
		}
	}
	return flags
}

// Rotation settings for log files: roll at 100 MB, keep the last 8 rolls.
const (
	logFileThresholdKB = 100 * 1000
	logFileMaxRolls    = 8
)

// Backend fans formatted log entries out to a set of writers, each with
// its own minimum level. All writes go through a single goroutine, so
// writers never see interleaved entries.
type Backend struct {
	flag      uint32
	isRunning uint32
	writers   []logWriter
	writeChan chan logEntry
	syncClose sync.Mutex
}

// NewBackend creates a backend with the callsite flags taken from the
// LOGFLAGS environment variable.
func NewBackend() *Backend {
	return &Backend{flag: callsiteFlags, writeChan: make(chan logEntry)}
}

type logWriter struct {
	io.WriteCloser
	level Level
}

// AddLogFile registers a rotated log file that receives every entry at or
// above logLevel. The file and its directory are created if missing.
// Writers can only be added before Run.
func (b *Backend) AddLogFile(logFile string, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("cannot add a log file to a running backend")
	}
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return errors.Errorf("failed to create log directory: %+v", err)
		}
	}
	r, err := rotator.New(logFile, logFileThresholdKB, false, logFileMaxRolls)
	if err != nil {
		return errors.Errorf("failed to create file rotator: %s", err)
	}
	b.writers = append(b.writers, logWriter{WriteCloser: r, level: logLevel})
	return nil
}

// AddLogWriter registers a writer that receives every entry at or above
// logLevel. Writers can only be added before Run.
func (b *Backend) AddLogWriter(writer io.WriteCloser, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("cannot add a log writer to a running backend")
	}
	b.writers = append(b.writers, logWriter{WriteCloser: writer, level: logLevel})
	return nil
}

// Run starts the write goroutine. Run can be called once per backend.
func (b *Backend) Run() error {
	if !atomic.CompareAndSwapUint32(&b.isRunning, 0, 1) {
		return errors.New("the logger backend is already running")
	}
	go func() {
		defer func() {
			if err := recover(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Fatal error in the logger backend: %+v\n", err)
				_, _ = fmt.Fprintf(os.Stderr, "Goroutine stacktrace: %s\n", debug.Stack())
			}
		}()
		b.drainEntries()
	}()
	return nil
}

func (b *Backend) drainEntries() {
	defer atomic.StoreUint32(&b.isRunning, 0)
	b.syncClose.Lock()
	defer b.syncClose.Unlock()

	for entry := range b.writeChan {
		for _, writer := range b.writers {
			if entry.level >= writer.level {
				_, _ = writer.Write(entry.log)
			}
		}
	}
}

// IsRunning reports whether Run has been called.
func (b *Backend) IsRunning() bool {
	return atomic.LoadUint32(&b.isRunning) != 0
}

// Close stops accepting entries, waits for the queued ones to be written
// and closes every registered writer.
func (b *Backend) Close() {
	close(b.writeChan)
	b.syncClose.Lock()
	defer b.syncClose.Unlock()
	for _, writer := range b.writers {
		_ = writer.Close()
	}
}

// Logger returns a subsystem logger writing to b. Every message carries
// the subsystem tag.
func (b *Backend) Logger(subsystemTag string) *Logger {
	return &Logger{
		lvl:       LevelInfo,
		tag:       subsystemTag,
		b:         b,
		writeChan: b.writeChan,
	}
}
