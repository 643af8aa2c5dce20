package logger

import (
	"flag"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugHandshake  bool
	DebugWire       bool
	DebugRender     bool
	DebugMixer      bool
	DebugTransport  bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugHandshake, "debug-handshake", false, "Enable crypto handshake debugging")
	fs.BoolVar(&f.DebugWire, "debug-wire", false, "Enable wire-frame debugging")
	fs.BoolVar(&f.DebugRender, "debug-render", false, "Enable render-worker debugging")
	fs.BoolVar(&f.DebugMixer, "debug-mixer", false, "Enable audio mixer debugging")
	fs.BoolVar(&f.DebugTransport, "debug-transport", false, "Enable transport debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags into a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	switch {
	case f.DebugAll:
		cfg.EnableCategory(CategoryAll)
		cfg.Level = LevelDebug
	default:
		if f.DebugHandshake {
			cfg.EnableCategory(CategoryHandshake)
			cfg.Level = LevelDebug
		}
		if f.DebugWire {
			cfg.EnableCategory(CategoryWire)
			cfg.Level = LevelDebug
		}
		if f.DebugRender {
			cfg.EnableCategory(CategoryRender)
			cfg.Level = LevelDebug
		}
		if f.DebugMixer {
			cfg.EnableCategory(CategoryMixer)
			cfg.Level = LevelDebug
		}
		if f.DebugTransport {
			cfg.EnableCategory(CategoryTransport)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a compact representation of the enabled flags.
func (f *Flags) String() string {
	parts := []string{"level=" + f.LogLevel, "format=" + f.LogFormat}
	if f.LogFile != "" {
		parts = append(parts, "output="+f.LogFile)
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	switch {
	case f.DebugAll:
		cats = append(cats, "all")
	default:
		if f.DebugHandshake {
			cats = append(cats, "handshake")
		}
		if f.DebugWire {
			cats = append(cats, "wire")
		}
		if f.DebugRender {
			cats = append(cats, "render")
		}
		if f.DebugMixer {
			cats = append(cats, "mixer")
		}
		if f.DebugTransport {
			cats = append(cats, "transport")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, "debug=["+strings.Join(cats, ",")+"]")
	}
	return strings.Join(parts, " ")
}
