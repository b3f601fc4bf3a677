package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	"moul.io/zapfilter"
)

// Config describes per-namespace log filtering.
// The filter syntax is the one understood by moul.io/zapfilter, for example
// "info:pipeline* debug:consistency error:*".
type Config struct {
	DefaultLevel string `yaml:"defaultLevel"`
	Filters      string `yaml:"filters"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read log config: %w", err)
	}
	cfg := &Config{DefaultLevel: "info"}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse log config: %w", err)
	}
	return cfg, nil
}

// NewWithConfig builds a logger whose named sub-loggers are filtered
// according to cfg.Filters.
func NewWithConfig(cfg *Config, out io.Writer, format string, opts ...Option) (
	*Logger, error,
) {
	level, err := ParseLevel(cfg.DefaultLevel)
	if err != nil {
		level = InfoLevel
	}
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), zap.DebugLevel)
	if cfg.Filters != "" {
		filterFunc, err := zapfilter.ParseRules(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("invalid log filters: %w", err)
		}
		core = zapfilter.NewFilteringCore(core, filterFunc)
	} else {
		core = zapfilter.NewFilteringCore(core, zapfilter.MinimumLevel(level))
	}
	return &Logger{l: zap.New(core, opts...), level: level}, nil
}
