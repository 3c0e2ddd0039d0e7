// Command pipboy-relay attaches to a Fallout 4 Pip-Boy host as an ordinary
// client and re-serves its materialized tree to any number of downstream
// Pip-Boy apps, following the teacher binary's flag-parse-then-run-until-
// signal structure.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mkassab/pipboy-go/internal/config"
	"github.com/mkassab/pipboy-go/internal/frame"
	"github.com/mkassab/pipboy-go/internal/tree"
	"github.com/mkassab/pipboy-go/internal/wire"
	"github.com/mkassab/pipboy-go/pkg/plog"
	"github.com/mkassab/pipboy-go/pkg/relay"
)

func main() {
	var (
		flagConfigFile  string
		flagUpstream    string
		flagListenPort  int
		flagNoDiscovery bool
		flagLogLevel    string
	)
	flag.StringVar(&flagConfigFile, "config", "", "Overwrite the default relay options by those in `config.json`")
	flag.StringVar(&flagUpstream, "upstream", "", "Upstream Pip-Boy host address (`host:port`); discovered on the broadcast network if empty")
	flag.IntVar(&flagListenPort, "listen-port", 0, "TCP port downstream clients connect to (0 keeps the config/default)")
	flag.BoolVar(&flagNoDiscovery, "no-autodiscover", false, "Do not start the UDP autodiscover responder")
	flag.StringVar(&flagLogLevel, "log-level", "", "Override the configured log level (err, warn, info, debug)")
	flag.Parse()

	cfg, err := config.LoadRelayConfig(flagConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipboy-relay: %v\n", err)
		os.Exit(1)
	}
	if flagListenPort != 0 {
		cfg.ListenPort = flagListenPort
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	plog.SetLevel(cfg.LogLevel)

	upstreamHost, upstreamPort := cfg.UpstreamHost, cfg.UpstreamPort
	if flagUpstream != "" {
		upstreamHost, upstreamPort, err = splitHostPort(flagUpstream, cfg.UpstreamPort)
		if err != nil {
			plog.Errorf("pipboy-relay: %v", err)
			os.Exit(1)
		}
	}
	if upstreamHost == "" {
		hosts, err := frame.Discover("", cfg.DiscoveryPort, 3*time.Second)
		if err != nil || len(hosts) == 0 {
			plog.Errorf("pipboy-relay: no upstream configured and discovery found nothing: %v", err)
			os.Exit(1)
		}
		upstreamHost = hosts[0].Addr
		plog.Infof("pipboy-relay: discovered upstream host at %s", upstreamHost)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := tree.NewStore()
	upstream := frame.NewChannel()
	upstream.RegisterMessageListener(nil, func(msg frame.Message) {
		switch msg.Type {
		case frame.DataUpdate:
			if err := wire.DecodeRecords(msg.Payload, func(rec wire.Record) error {
				return store.ApplyRecord(rec)
			}); err != nil {
				plog.Errorf("pipboy-relay: decoding upstream DATA_UPDATE: %v", err)
			}
		}
	})
	upstream.RegisterConnectionListener(func(connected bool, errStatus int, errMsg string) {
		if !connected {
			plog.Warnf("pipboy-relay: upstream connection lost (status=%d): %s", errStatus, errMsg)
			stop()
		}
	})

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = upstream.Connect(connectCtx, upstreamHost, upstreamPort)
	cancel()
	if err != nil {
		plog.Errorf("pipboy-relay: connecting to upstream %s:%d: %v", upstreamHost, upstreamPort, err)
		os.Exit(1)
	}
	plog.Infof("pipboy-relay: attached to upstream %s:%d", upstreamHost, upstreamPort)

	srv := relay.NewServer(upstream, store, cfg)
	if !flagNoDiscovery {
		if err := srv.StartAutodiscoverService(ctx); err != nil {
			plog.Errorf("pipboy-relay: %v", err)
			os.Exit(1)
		}
	}
	if err := srv.StartRelayService(ctx); err != nil {
		plog.Errorf("pipboy-relay: %v", err)
		os.Exit(1)
	}
	plog.Infof("pipboy-relay: serving downstream clients on :%d", cfg.ListenPort)

	<-ctx.Done()
	plog.Info("pipboy-relay: shutting down")
	srv.StopRelayService()
	srv.StopAutodiscoverService()
	upstream.Disconnect()
	upstream.Join()
	if err := srv.Join(); err != nil {
		plog.Errorf("pipboy-relay: relay service exited with error: %v", err)
	}
}

func splitHostPort(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid -upstream %q: %w", addr, err)
	}
	if portStr == "" {
		return host, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid -upstream port in %q: %w", addr, err)
	}
	return host, port, nil
}
