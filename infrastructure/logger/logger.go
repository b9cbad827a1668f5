package logger

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// logEntry is a single formatted log message together with its level, queued
// for the backend goroutine to write.
type logEntry struct {
	log   []byte
	level Level
}

// Logger is a subsystem logger. All messages are tagged with the subsystem
// name and dispatched through the owning Backend's write channel.
type Logger struct {
	lvl          Level
	tag          string
	b            *Backend
	writeChan    chan<- logEntry
	writeChanMtx sync.RWMutex
}

// Trace formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelTrace.
func (l *Logger) Trace(args ...interface{}) {
	l.print(LevelTrace, args...)
}

// Tracef formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.printf(LevelTrace, format, args...)
}

// Debug formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelDebug.
func (l *Logger) Debug(args ...interface{}) {
	l.print(LevelDebug, args...)
}

// Debugf formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(LevelDebug, format, args...)
}

// Info formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelInfo.
func (l *Logger) Info(args ...interface{}) {
	l.print(LevelInfo, args...)
}

// Infof formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.printf(LevelInfo, format, args...)
}

// Warn formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelWarn.
func (l *Logger) Warn(args ...interface{}) {
	l.print(LevelWarn, args...)
}

// Warnf formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(LevelWarn, format, args...)
}

// Error formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelError.
func (l *Logger) Error(args ...interface{}) {
	l.print(LevelError, args...)
}

// Errorf formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(LevelError, format, args...)
}

// Critical formats message using the default formats for its operands,
// prepends the prefix as necessary, and writes to log with LevelCritical.
func (l *Logger) Critical(args ...interface{}) {
	l.print(LevelCritical, args...)
}

// Criticalf formats message according to format specifier, prepends the
// prefix as necessary, and writes to log with LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.printf(LevelCritical, format, args...)
}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return l.lvl
}

// SetLevel changes the logging level to the passed level.
func (l *Logger) SetLevel(level Level) {
	l.lvl = level
}

func (l *Logger) print(level Level, args ...interface{}) {
	if level < l.lvl {
		return
	}
	l.write(level, fmt.Sprintln(args...))
}

func (l *Logger) printf(level Level, format string, args ...interface{}) {
	if level < l.lvl {
		return
	}
	l.write(level, fmt.Sprintf(format, args...)+"\n")
}

func (l *Logger) write(level Level, message string) {
	t := time.Now()

	var file string
	var line int
	if l.b.flag&(LogFlagShortFile|LogFlagLongFile) != 0 {
		var ok bool
		_, file, line, ok = runtime.Caller(3)
		if !ok {
			file = "???"
			line = 0
		} else if l.b.flag&LogFlagShortFile != 0 {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if os.IsPathSeparator(file[i]) {
					short = file[i+1:]
					break
				}
			}
			file = short
		}
	}

	buf := make([]byte, 0, normalLogSize+len(message))
	buf = append(buf, t.Format("2006-01-02 15:04:05.000")...)
	buf = append(buf, " ["...)
	buf = append(buf, level.String()...)
	buf = append(buf, "] "...)
	buf = append(buf, l.tag...)
	if file != "" {
		buf = append(buf, ' ')
		buf = append(buf, file...)
		buf = append(buf, ':')
		buf = appendDecimal(buf, line)
	}
	buf = append(buf, ": "...)
	buf = append(buf, message...)

	l.writeChanMtx.RLock()
	defer l.writeChanMtx.RUnlock()
	if l.b.IsRunning() {
		l.writeChan <- logEntry{log: buf, level: level}
	} else {
		_, _ = os.Stderr.Write(buf)
	}
}

// appendDecimal appends the decimal representation of n to buf.
func appendDecimal(buf []byte, n int) []byte {
	if n < 0 {
		buf = append(buf, '-')
		n = -n
	}
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(buf, tmp[i:]...)
}

var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = NewBackend()

	subsystemLoggers = make(map[string]*Logger)
	subsystemMtx     sync.Mutex
)

// BackendLog returns the process-wide logging backend.
func BackendLog() *Backend {
	return backendLog
}

// Get returns the logger for the given subsystem tag, creating it with the
// default level if it does not exist yet.
func Get(tag string) *Logger {
	subsystemMtx.Lock()
	defer subsystemMtx.Unlock()
	logger, ok := subsystemLoggers[tag]
	if !ok {
		logger = backendLog.Logger(tag)
		logger.SetLevel(LevelInfo)
		subsystemLoggers[tag] = logger
	}
	return logger
}

// SupportedSubsystems returns a sorted slice of the registered subsystem tags.
func SupportedSubsystems() []string {
	subsystemMtx.Lock()
	defer subsystemMtx.Unlock()
	subsystems := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		subsystems = append(subsystems, tag)
	}
	for i := 1; i < len(subsystems); i++ {
		for j := i; j > 0 && subsystems[j] < subsystems[j-1]; j-- {
			subsystems[j], subsystems[j-1] = subsystems[j-1], subsystems[j]
		}
	}
	return subsystems
}

// SetLogLevel sets the logging level of the given subsystem. Returns false if
// the subsystem is unknown.
func SetLogLevel(tag string, levelStr string) bool {
	subsystemMtx.Lock()
	defer subsystemMtx.Unlock()
	logger, ok := subsystemLoggers[tag]
	if !ok {
		return false
	}
	level, _ := LevelFromString(levelStr)
	logger.SetLevel(level)
	return true
}

// SetLogLevels sets the logging level of all registered subsystems. An
// invalid level string leaves the levels unchanged and returns false.
func SetLogLevels(levelStr string) bool {
	level, ok := LevelFromString(levelStr)
	if !ok {
		return false
	}
	subsystemMtx.Lock()
	defer subsystemMtx.Unlock()
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return true
}

// ParseAndSetLogLevels parses a debug level specification of the form
// "level" or "subsystem=level,subsystem2=level2" and applies it.
func ParseAndSetLogLevels(spec string) error {
	if !strings.Contains(spec, ",") && !strings.Contains(spec, "=") {
		if _, ok := LevelFromString(spec); !ok {
			return fmt.Errorf("the specified debug level [%s] is invalid", spec)
		}
		SetLogLevels(spec)
		return nil
	}
	for _, logLevelPair := range strings.Split(spec, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}
		fields := strings.Split(logLevelPair, "=")
		subsystem, levelStr := fields[0], fields[1]
		if _, ok := LevelFromString(levelStr); !ok {
			return fmt.Errorf("the specified debug level [%s] is invalid", levelStr)
		}
		if !SetLogLevel(subsystem, levelStr) {
			return fmt.Errorf("the specified subsystem [%s] is invalid", subsystem)
		}
	}
	return nil
}
