package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/jawr/mtad/internal/config"
	"github.com/jawr/mtad/internal/logger"
	"github.com/jawr/mtad/internal/relay"
	"github.com/jawr/mtad/internal/smtpd"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

// run loads the config file named by argv[1], bootstraps mail-dir, and
// starts the inbound server and the relay engine; it returns only on an
// unrecoverable startup error or on SIGINT/SIGTERM (spec §6 CLI: "single
// entry point; no flags; exits nonzero only on unrecoverable startup
// errors").
func run() error {
	if len(os.Args) != 2 {
		return errors.Errorf("usage: %s <config-file>", os.Args[0])
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		return errors.WithMessage(err, "config.Load")
	}

	if err := config.Bootstrap(cfg); err != nil {
		return errors.WithMessage(err, "config.Bootstrap")
	}

	log := logger.NewStd()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "mtad"
	}

	server := smtpd.NewServer(cfg, log, hostname)

	relaySvc, err := relay.NewService(cfg, log)
	if err != nil {
		return errors.WithMessage(err, "relay.NewService")
	}
	relaySvc.Run()
	defer relaySvc.Close()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("mtad listening on :%d, mail-dir %s", cfg.Port, cfg.MailDir)

	select {
	case err := <-serverErr:
		return errors.WithMessage(err, "server.Run")
	case s := <-sig:
		log.Printf("received %s, shutting down", s)
		return server.Close()
	}
}
