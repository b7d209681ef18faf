package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/infra/logger"
	"kilo-brain/internal/infra/tracer"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" {
			showUsage()
			return
		}
	}

	cmd := ""
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "", "run":
		err = run()
	case "doctor":
		err = runDoctor()
	case "encrypt":
		err = runEncrypt()
	case "help":
		showUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'kilo-brain help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		name := cmd
		if name == "" {
			name = "fatal"
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`kilo-brain - Kilo's conversational brain

USAGE:
    kilo-brain [COMMAND] [FLAGS]

COMMANDS:
    run         Serve the HTTP API (default)
    doctor      Check config, model keys and collaborator reachability
    encrypt     Encrypt a secret for use as an "enc:" config value
                (passphrase from KILO_CONFIG_KEY, value read from stdin)
    help        Show this help message

FLAGS:
    --config PATH   Config file path (default: ./config.yaml, or $KILO_CONFIG)

CONFIGURATION:
    Environment: KILO_* variables override the config file`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("KILO_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Components
	a, cleanup, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. Scheduler
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	log.Info("kilo-brain starting",
		"addr", cfg.Gateway.Addr,
		"provider", a.llm.Name(),
		"tools", len(a.tools.Names()),
		"health_monitor", a.monitor != nil,
		"auth", len(cfg.Gateway.Tokens) > 0,
	)

	// 5. Gateway blocks until ctx is cancelled.
	if err := a.gateway.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	a.gateway.Stop(shutdownCtx)
	log.Info("kilo-brain stopped")
	return nil
}

// runEncrypt reads one secret from stdin and prints its "enc:" form.
func runEncrypt() error {
	passphrase := os.Getenv("KILO_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("KILO_CONFIG_KEY must be set")
	}

	fmt.Fprint(os.Stderr, "Value to encrypt: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return errors.New("empty value")
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
