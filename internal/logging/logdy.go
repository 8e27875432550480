package logging

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/logdyhq/logdy-core/logdy"
	"github.com/rs/zerolog"

	"kepler-vision-go/internal/config"
)

// logdyWriter forwards each JSON log line to the embedded Logdy UI.
type logdyWriter struct {
	logger logdy.Logdy
}

func (w *logdyWriter) Write(p []byte) (n int, err error) {
	w.logger.LogString(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// AttachLogdy starts the embedded Logdy web UI and returns a writer that tees zerolog
// output to console and to Logdy (raw JSON, so Logdy can parse the fields), plus the UI URL.
func AttachLogdy(cfg *config.Config, console io.Writer) (io.Writer, string) {
	portStr := strconv.Itoa(cfg.LogdyPort)
	ld := logdy.InitializeLogdy(logdy.Config{
		ServerIp:   cfg.LogdyHost,
		ServerPort: portStr,
	}, nil)

	url := fmt.Sprintf("http://%s:%s", cfg.LogdyHost, portStr)
	return zerolog.MultiLevelWriter(console, &logdyWriter{logger: ld}), url
}
