package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/pcksafe/pcksafe"
	"github.com/pcksafe/pcksafe/config"
)

// debugEnv forces debug logging when set to anything but "" or "0".
const debugEnv = "PCKSAFE_DEBUG"

// globalOptions are the flags every command shares.
type globalOptions struct {
	configPath string
	logLevel   string
	workerPath string
}

func (g *globalOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "config file (default: $"+config.EnvVar+", else built-in defaults)")
	flagSet.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")
	flagSet.StringVar(&g.workerPath, "worker", "", "worker binary (default: this executable)")
	flagSet.MarkHidden("worker")
}

// config loads the file named by --config or PCKSAFE_CONFIG. Without
// either the defaults apply.
func (g *globalOptions) config() (*config.Config, error) {
	switch {
	case g.configPath != "":
		return config.Load(g.configPath)
	case os.Getenv(config.EnvVar) != "":
		return config.LoadFromEnv()
	}
	return config.Default(), nil
}

func (g *globalOptions) logger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if v := os.Getenv(debugEnv); v != "" && v != "0" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// converter builds a Converter from the global flags. Worker logs go to
// the same stream as the command's own.
func (g *globalOptions) converter(errOut io.Writer) (*pcksafe.Converter, *config.Config, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	logger, err := g.logger(cfg, errOut)
	if err != nil {
		return nil, nil, err
	}
	c, err := pcksafe.New(pcksafe.Options{
		Config:     cfg,
		WorkerPath: g.workerPath,
		Stderr:     errOut,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// decodeOptions are the flags of commands that run a sandboxed decode.
type decodeOptions struct {
	owner string
	limit sizeValue
}

func (d *decodeOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&d.owner, "owner", "", "account to decode as (default: config owner)")
	flagSet.Var(&d.limit, "limit", "size limit such as 16MiB (default: config size_limit)")
}

// sizeValue is a pflag.Value holding a byte count written as a human size.
type sizeValue int64

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return humanize.IBytes(uint64(*s))
}

func (s *sizeValue) Set(v string) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	if n == 0 || n > 1<<62 {
		return errBadSize
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) Type() string { return "size" }
