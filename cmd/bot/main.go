package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pairquote-bot/internal/app"
	"pairquote-bot/internal/config"
	"pairquote-bot/internal/logging"

	"go.uber.org/zap"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "path to config file (see config.example.yaml)")
	envPath := fs.String("env", ".env", "path to .env file with exchange credentials")
	fs.Usage = func() { printUsage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := lookupCommand(fs.Arg(0))
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return exitUsage
	}

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(stderr, "failed to load %s: %v\n", *envPath, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitError
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Debug("config loaded", zap.String("path", *configPath), zap.Bool("real", cfg.Exchange.Real))

	creds, err := config.CredentialsFromEnv()
	if err != nil && cmd.private {
		log.Error("missing exchange credentials", zap.Error(err))
		return exitError
	}
	application, err := app.New(cfg, creds, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := cmd.run(ctx, application, fs.Args()[1:], stderr)
	if err != nil {
		if errors.Is(err, errUsage) {
			if err != errUsage {
				fmt.Fprintln(stderr, err)
			}
			return exitUsage
		}
		log.Error("command failed", zap.String("command", cmd.name), zap.Error(err))
		return exitError
	}
	if result != nil {
		if err := writeJSON(stdout, result); err != nil {
			log.Error("failed to render result", zap.Error(err))
			return exitError
		}
	}
	return exitOK
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "usage: bot [-config path] [-env path] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", cmd.name, cmd.help)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fs.PrintDefaults()
}
