package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// newWriter resolves an output specification to an io.Writer. Supported
// forms: "" or "stdout", "stderr", "file:///path", or a plain file path.
// File targets are opened in append mode with parent directories created.
func newWriter(output string) (io.Writer, error) {
	switch {
	case output == "" || output == "stdout":
		return os.Stdout, nil
	case output == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(output, "file://"):
		return openLogFile(strings.TrimPrefix(output, "file://"))
	case strings.Contains(output, "://"):
		return nil, fmt.Errorf("unsupported log output: %s", output)
	default:
		return openLogFile(output)
	}
}

func openLogFile(path string) (io.Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}
