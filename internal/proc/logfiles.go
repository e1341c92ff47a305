package proc

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFiles holds the stdout/stderr file handles of one supervised process.
// Worker output is written to files rather than pipes so a wedged or killed
// process can never block on a full pipe buffer, and post-mortem output
// survives the process.
type LogFiles struct {
	stdout *os.File
	stderr *os.File

	dataDir string
	name    string
}

// NewLogFiles creates <name>-stdout.log and <name>-stderr.log under dataDir.
// Both files are created before either handle is retained; on a partial
// failure the first file is closed again.
func NewLogFiles(dataDir, name string) (LogFiles, error) {
	l := LogFiles{dataDir: dataDir, name: name}

	stdout, err := os.Create(l.StdoutPath())
	if err != nil {
		return LogFiles{}, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdout.Close()
		return LogFiles{}, fmt.Errorf("create stderr log: %w", err)
	}

	l.stdout = stdout
	l.stderr = stderr
	return l, nil
}

// StdoutPath returns the absolute path to the stdout log file.
func (l *LogFiles) StdoutPath() string {
	return filepath.Join(l.dataDir, l.name+"-stdout.log")
}

// StderrPath returns the absolute path to the stderr log file.
func (l *LogFiles) StderrPath() string {
	return filepath.Join(l.dataDir, l.name+"-stderr.log")
}

// Close closes both handles and nils them to prevent double-close.
func (l *LogFiles) Close() {
	if l.stdout != nil {
		_ = l.stdout.Close()
		l.stdout = nil
	}
	if l.stderr != nil {
		_ = l.stderr.Close()
		l.stderr = nil
	}
}
