// Command server runs the conferencing hub: bind, accept, and serve
// per-client render pipelines until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/config"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/pkg/host"
	"github.com/ethan/termcast-hub/pkg/httpapi"
)

func main() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)

	envFile := fs.String("env", "", "Path to .env-style configuration file")
	port := fs.Int("port", int(config.Default().Port), "Listening port")
	ipv4Bind := fs.String("ipv4-bind", "0.0.0.0", "IPv4 bind address (empty to disable)")
	ipv6Bind := fs.String("ipv6-bind", "", "IPv6 bind address (empty to disable)")
	maxClients := fs.Int("max-clients", config.Default().MaxClients, "Maximum concurrent clients")
	noEncrypt := fs.Bool("no-encrypt", false, "Allow unencrypted sessions (named no-encrypt mode)")
	identityKey := fs.String("identity-key", "", "Path to Ed25519 identity key file")
	password := fs.String("password", "", "Session password mixed into derived keys")
	allowlist := fs.String("allowlist", "", "Comma-separated hex-encoded client public keys")
	httpAddr := fs.String("http", "", "Introspection HTTP API address (empty to disable)")

	logFlags := logger.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging flags: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	cfg := config.Default()
	if *envFile != "" {
		cfg, err = config.Load(*envFile)
		if err != nil {
			log.Error("failed to load configuration", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	// Flags given on the command line override the env file; without an
	// env file, every flag's value (given or default) applies.
	given := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })
	apply := func(name string) bool { return *envFile == "" || given[name] }
	if apply("port") {
		cfg.Port = uint16(*port)
	}
	if apply("ipv4-bind") {
		cfg.IPv4Bind = *ipv4Bind
	}
	if apply("ipv6-bind") {
		cfg.IPv6Bind = *ipv6Bind
	}
	if apply("max-clients") {
		cfg.MaxClients = *maxClients
	}
	if apply("no-encrypt") {
		cfg.EncryptionEnabled = !*noEncrypt
	}
	if *identityKey != "" {
		cfg.IdentityKeyPath = *identityKey
	}
	if *password != "" {
		cfg.Password = *password
	}
	if *allowlist != "" {
		cfg.ClientAllowlistHex = strings.Split(*allowlist, ",")
	}

	h, err := host.New(cfg, log, host.Callbacks{
		OnClientJoin: func(id client.ID) {
			log.Info("client joined", "client_id", id)
		},
		OnClientLeave: func(id client.ID) {
			log.Info("client left", "client_id", id)
		},
		OnError: func(id client.ID, err error) {
			log.Warn("client error", "client_id", id, "error", err)
		},
	})
	if err != nil {
		log.Error("failed to create host", "error", err)
		os.Exit(1)
	}

	if err := h.Start(); err != nil {
		log.Error("failed to start host", "error", err)
		os.Exit(1)
	}
	h.StartRender()

	var api *httpapi.Server
	if *httpAddr != "" {
		api = httpapi.New(h, log, *httpAddr)
		api.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = api.Shutdown(ctx)
		cancel()
	}
	h.Stop()
}
