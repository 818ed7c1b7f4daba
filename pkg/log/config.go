package log

// Config controls process-wide logger construction from flag or env input.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
}

// ApplyConfig builds a logger from a Config. Unknown levels are an error;
// an empty format defaults to text.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level := InfoLevel
	if cfg.Level != "" {
		parsed, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	var f Formatter
	switch cfg.Format {
	case "", "text":
		f = &TextFormatter{}
	case "json":
		f = &JSONFormatter{}
	default:
		return nil, &InvalidFormatError{Input: cfg.Format}
	}
	return NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewConsoleOutput())), nil
}

// InvalidFormatError reports an unknown format name.
type InvalidFormatError struct{ Input string }

func (e *InvalidFormatError) Error() string { return "log: invalid format " + e.Input }
