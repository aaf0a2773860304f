// logging.go

package main

import (
	"strings"

	jww "github.com/spf13/jwalterweatherman"
)

// configureLogging sets the stdout threshold from LOG_LEVEL.
func configureLogging(level string) {
	threshold := jww.LevelInfo
	switch strings.ToLower(level) {
	case "trace":
		threshold = jww.LevelTrace
	case "debug":
		threshold = jww.LevelDebug
	case "warn", "warning":
		threshold = jww.LevelWarn
	case "error":
		threshold = jww.LevelError
	}
	jww.SetStdoutThreshold(threshold)
	jww.SetLogThreshold(threshold)
}
