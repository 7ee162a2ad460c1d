// Package runlog sets up the per-run diagnostic log. Lines go to the console
// and are appended to a run log file as "HH:MM:SS - message".
package runlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EnvPath overrides the run log file location.
const EnvPath = "LPMBOX_LOG"

// Formatter renders entries as "HH:MM:SS - message key=value ...".
type Formatter struct{}

func (f *Formatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteString(" - ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

type Options struct {
	// Path of the log file, defaults to LogsDir/run_YYYY.MM.DD.HH.MM.log
	Path    string
	LogsDir string
	Console io.Writer
	Verbose bool
	Now     func() time.Time
}

// Logger is the logging context of one run. It is passed explicitly to
// everything that reports progress.
type Logger struct {
	*logrus.Logger

	RunID string
	Path  string
	file  *os.File
}

func logPath(opts Options, now time.Time) string {
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	if opts.Path != "" {
		return opts.Path
	}
	if opts.LogsDir == "" {
		return ""
	}
	return filepath.Join(opts.LogsDir, fmt.Sprintf("run_%s.log", now.Format("2006.01.02.15.04")))
}

// New opens (appends to) the run log file and returns a logger writing to
// it and to the console.
func New(opts Options) (*Logger, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		Logger: logrus.New(),
		RunID:  uuid.NewString(),
		Path:   logPath(opts, now()),
	}
	l.SetFormatter(&Formatter{})
	l.SetLevel(logrus.InfoLevel)
	if opts.Verbose {
		l.SetLevel(logrus.DebugLevel)
	}

	out := console
	if l.Path != "" {
		if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		// #nosec G302
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("cannot open run log: %w", err)
		}
		l.file = f
		out = io.MultiWriter(console, f)
	}
	l.SetOutput(out)
	l.Debugf("run %s, log file %q", l.RunID, l.Path)

	return l, nil
}

// Discard returns a logger that drops everything, for callers that do not
// care about diagnostics.
func Discard() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetOutput(io.Discard)
	return l
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
