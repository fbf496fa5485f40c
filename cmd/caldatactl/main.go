// caldatactl operates a caldata solution store from the command line.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/term"

	"github.com/xtxerr/caldata/internal/logging"
	"github.com/xtxerr/caldata/internal/storage"
	"github.com/xtxerr/caldata/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("caldatactl", flag.ContinueOnError)
	cfgPath := flags.String("config", "caldata.yaml", "config file path")
	dataDir := flags.String("data-dir", "", "data directory (overrides config)")
	logLevel := flags.String("log-level", "", "log level (overrides config)")
	version := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: caldatactl [flags] <command> [args]\n\nflags:\n")
		flags.PrintDefaults()
		fmt.Fprintf(flags.Output(), "\ncommands:\n")
		printUsage(flags.Output())
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *version {
		fmt.Println("caldatactl", Version)
		return 0
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "caldatactl: %v\n", err)
		return 1
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "caldatactl: %v\n", err)
		return 1
	}
	logging.Init(level, cfg.Logging.Format)

	engine, err := storage.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "caldatactl: open store: %v\n", err)
		return 1
	}
	defer engine.Close()

	if flags.Arg(0) == "shell" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "caldatactl: shell needs a terminal")
			return 1
		}
		runShell(engine, os.Stdout)
		return 0
	}

	if err := dispatch(engine, os.Stdout, flags.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "caldatactl: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// loadConfig reads path, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}
