package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/incidentgraph/graph"
	"github.com/dshills/incidentgraph/internal/config"
)

// NewLogger builds the process logger from cfg, writing to stderr unless w
// is given.
func NewLogger(cfg config.LogConfig, w ...io.Writer) (*slog.Logger, error) {
	var writer io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		writer = w[0]
	}

	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, &graph.ConfigurationError{Field: "log_level", Reason: err.Error()}
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(slog.String("component", "incident-decision")), nil
}
