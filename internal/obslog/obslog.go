// Package obslog wraps zerolog with the teacher's dual-sink logging shape
// (file plus stream), writing to a date-suffixed file inside one log
// directory per component name, after setup_logger's convention.
package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// New opens log/<name>/<name>-<YYYY-MM-DD>.log for appending, dated with the
// UTC day on which New is called (creating the directory if needed), tees
// to stderr, and returns a logger annotated with the component name. The
// file is chosen once: a logger that outlives that day keeps writing to the
// same file, and there is no rotation at midnight.
func New(name string) zerolog.Logger {
	dir := filepath.Join("log", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "obslog: could not create %s, logging to stderr only: %v\n", dir, err)
		return zerolog.New(os.Stderr).With().Timestamp().Str("component", name).Logger()
	}

	path := filepath.Join(dir, name+"-"+time.Now().UTC().Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "obslog: could not open %s, logging to stderr only: %v\n", path, err)
		return zerolog.New(os.Stderr).With().Timestamp().Str("component", name).Logger()
	}

	var writers []io.Writer
	writers = append(writers, f, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).With().Timestamp().Str("component", name).Logger()
}
