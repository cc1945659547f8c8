// Package config parses the command line and environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Uranury/ruuvi-lapio/delivery"
)

const ProgramName = "ruuvi-lapio"

// Sources and isolation modes.
const (
	SourceBLE       = "ble"
	SourceSimulated = "simulated"

	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

// ErrHelp is returned by Load when --help was requested.
var ErrHelp = pflag.ErrHelp

// Influx holds the optional InfluxDB mirror settings.
type Influx struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (i Influx) Enabled() bool { return i.URL != "" }

// Configuration holds application configuration details
type Configuration struct {
	Dest          string
	Debug         bool
	Timeout       time.Duration
	Source        string
	SimulatedTags int
	Isolation     string
	StatusAddress string
	Influx        Influx

	// Producer is set in the child process that runs the producer.
	Producer bool
}

// LoadDotEnv loads a .env file from the working directory if there is
// one. Variables already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load parses args (without the program name). Usage and parse errors are
// written to out.
func Load(args []string, out io.Writer) (*Configuration, error) {
	c := &Configuration{
		Influx: Influx{
			URL:    os.Getenv("INFLUX_URL"),
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    os.Getenv("INFLUX_ORG"),
			Bucket: os.Getenv("INFLUX_BUCKET"),
		},
	}

	fs := pflag.NewFlagSet(ProgramName, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "%s sends sensory data over http\n\nUsage:\n  %s [flags] dest\n\nArguments:\n  dest  where to send measurements including protocol and path\n\nFlags:\n", ProgramName, ProgramName)
		fs.PrintDefaults()
	}
	fs.BoolVar(&c.Debug, "debug", false, "debug logging")
	fs.DurationVar(&c.Timeout, "timeout", delivery.DefaultTimeout, "timeout for one delivery")
	fs.StringVar(&c.Source, "source", getEnv("LAPIO_SOURCE", SourceBLE), "reading source: ble or simulated")
	fs.IntVar(&c.SimulatedTags, "simulated-tags", 3, "number of virtual tags for the simulated source")
	fs.StringVar(&c.Isolation, "isolation", IsolationProcess, "where the producer runs: process or goroutine")
	fs.StringVar(&c.StatusAddress, "status-addr", getEnv("LAPIO_STATUS_ADDR", ""), "serve /healthz and /ws on this address (disabled when empty)")
	fs.BoolVar(&c.Producer, "producer", false, "run as the producer child process")
	fs.MarkHidden("producer")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch c.Source {
	case SourceBLE, SourceSimulated:
	default:
		return nil, fmt.Errorf("unknown source %q", c.Source)
	}
	switch c.Isolation {
	case IsolationProcess, IsolationGoroutine:
	default:
		return nil, fmt.Errorf("unknown isolation %q", c.Isolation)
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("--timeout must be positive, got %s", c.Timeout)
	}
	if c.SimulatedTags < 1 {
		return nil, fmt.Errorf("--simulated-tags must be at least 1, got %d", c.SimulatedTags)
	}

	if c.Producer {
		return c, nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one dest argument, got %d", fs.NArg())
	}
	dest, err := parseDest(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	c.Dest = dest
	return c, nil
}

// ProducerArgs are the arguments for the producer child process.
func (c *Configuration) ProducerArgs() []string {
	args := []string{
		"--producer",
		"--source", c.Source,
		"--simulated-tags", fmt.Sprint(c.SimulatedTags),
	}
	if c.Debug {
		args = append(args, "--debug")
	}
	return args
}

func parseDest(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid dest %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid dest %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid dest %q: missing host", raw)
	}
	return u.String(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
