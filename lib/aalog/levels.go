package aalog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels applies quieter defaults for chatty dependencies unless
// GOLOG_LOG_LEVEL already says otherwise.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set {
		_ = logging.SetLogLevel("*", "INFO")
		_ = logging.SetLogLevel("rpc", "ERROR")
		_ = logging.SetLogLevel("auth", "WARN")
	}
}
