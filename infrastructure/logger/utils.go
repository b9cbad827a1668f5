package logger

import "time"

// LogAndMeasureExecutionTime logs that functionName started at debug
// level and returns a function that logs how long it ran. Callers defer
// the returned function.
func LogAndMeasureExecutionTime(log *Logger, functionName string) (onEnd func()) {
	start := time.Now()
	log.Debugf("%s start", functionName)
	return func() {
		log.Debugf("%s finished in %s", functionName, time.Since(start))
	}
}
