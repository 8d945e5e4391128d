package logs

import (
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

// newFileRotator opens (creating if necessary) a rotating log file at
// logFile, rolling at 10 MiB and keeping maxRolls archives.
func newFileRotator(logFile string, maxRolls int) (*rotator.Rotator, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, err
	}
	return rotator.New(logFile, 10*1024, false, maxRolls) // threshold in KB
}
