package logging

import (
	"io"
	"log"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

const (
	ServiceName = "survey_engine"
)

// Init sends json logs to the log file and human readable logs to stderr.
func Init(logFile io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level, AddSource: true})
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{slog.String("service", ServiceName)})

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	slog.SetDefault(slog.New(slogmulti.Fanout(jsonHandler, textHandler)))

	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
}
