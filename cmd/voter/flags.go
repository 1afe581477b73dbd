package main

import (
	"errors"
	"flag"
	"os"
	"strings"
)

type options struct {
	ConfigPath string
	ServerURL  string
	RoomID     string
	Name       string
	Create     bool

	// MetricsAddr serves the client counters when set.
	MetricsAddr string
}

// parseFlags reads command line flags, falling back to environment variables.
func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("voter", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to a YAML config file")
	fs.StringVar(&opts.ServerURL, "s", "", "Room directory URL (overrides config)")
	fs.StringVar(&opts.RoomID, "r", "", "Room code to join")
	fs.StringVar(&opts.Name, "n", "", "Your display name")
	fs.BoolVar(&opts.Create, "create", false, "Create a new room and host it")
	fs.StringVar(&opts.MetricsAddr, "metrics", "", "Listen address for Prometheus metrics, e.g. localhost:9100")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	// Fall back to environment variables
	if opts.ConfigPath == "" {
		opts.ConfigPath = os.Getenv("WEVOTE_CONFIG")
	}
	if opts.RoomID == "" {
		opts.RoomID = os.Getenv("WEVOTE_ROOM")
	}
	if opts.Name == "" {
		opts.Name = os.Getenv("WEVOTE_NAME")
	}

	opts.Name = strings.TrimSpace(opts.Name)
	opts.RoomID = strings.ToUpper(strings.TrimSpace(opts.RoomID))

	if opts.Name == "" {
		return options{}, errors.New("name required (use -n or WEVOTE_NAME)")
	}
	if opts.Create && opts.RoomID != "" {
		return options{}, errors.New("use either -create or -r, not both")
	}
	if !opts.Create && opts.RoomID == "" {
		return options{}, errors.New("room code required (use -r, WEVOTE_ROOM or -create)")
	}
	return opts, nil
}
