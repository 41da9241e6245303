// Command udptproxy is the transparent UDP proxy entrypoint: it wires
// together the TPROXY receiver/sender, the flow dispatcher, the checking
// service, the SOCKSv5 referrer loop, and a Prometheus metrics server.
//
// Adapted from the teacher's cmd/* entrypoints: flag parsing through
// cobra, structured startup logging through logrus, os.Exit with a
// non-zero code on configuration or bind failure (spec §6).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/checking"
	"github.com/nullrouted/udptproxy/internal/config"
	"github.com/nullrouted/udptproxy/internal/dispatcher"
	"github.com/nullrouted/udptproxy/internal/kernel"
	"github.com/nullrouted/udptproxy/internal/metrics"
	"github.com/nullrouted/udptproxy/internal/socks5"
	"github.com/nullrouted/udptproxy/internal/tproxy"
	"github.com/nullrouted/udptproxy/internal/upstream"
)

func main() {
	cmd := config.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("udptproxy: fatal")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	logrus.SetLevel(level)

	if err := kernel.RequireTProxyAndBatching(); err != nil {
		return err
	}

	pool := upstream.NewPool()
	if cfg.ListPath != "" {
		specs, err := config.LoadUpstreamList(cfg.ListPath)
		if err != nil {
			return err
		}
		for _, s := range specs {
			pool.Add(upstream.New(s.Name, s.Addr, s.Protocol, s.InnerProto))
		}
	}
	for _, addr := range cfg.Socks5UDP {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("socks5-udp %s: %w", addr, err)
		}
		pool.Add(upstream.New(addr, udpAddr, upstream.ProtocolSocks5UDP, upstream.Unspecified))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, addr := range cfg.Socks5TCP {
		referrer := socks5.NewReferrer(addr, addr, pool)
		go referrer.Run(ctx)
	}

	laddr, err := cfg.ListenAddr()
	if err != nil {
		return fmt.Errorf("listen address: %w", err)
	}
	receiver, err := tproxy.NewReceiver(laddr)
	if err != nil {
		return fmt.Errorf("bind tproxy receiver on %s: %w", laddr, err)
	}
	defer receiver.Close()

	senders := tproxy.NewSenderPool()
	disp := dispatcher.New(pool, senders, cfg.UDPSessionTimeout, cfg.UDPMaxSessions, cfg.RemoteDNS)

	if !cfg.NoCheck {
		dnsV4, dnsV6, err := cfg.DNSTargets()
		if err != nil {
			return err
		}
		checker := checking.New(pool, cfg.CheckInterval, dnsV4, dnsV6)
		go checker.Run(ctx)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewUpstreamCollector(pool))
	go serveMetrics(cfg.MetricsAddr, registry)

	go receiveLoop(ctx, receiver)

	logrus.WithField("addr", laddr).Info("udptproxy: listening")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("udptproxy: shutting down")
			return nil
		case group, ok := <-receiver.Groups():
			if !ok {
				return nil
			}
			if err := disp.Dispatch(group); err != nil {
				logrus.WithError(err).Debug("udptproxy: dispatch failed")
			}
		}
	}
}

// receiveLoop runs the receiver's batch_recv loop until ctx is
// cancelled; a hard socket error is logged since it stops the entire
// inbound path.
func receiveLoop(ctx context.Context, receiver *tproxy.Receiver) {
	if err := receiver.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("udptproxy: tproxy receiver stopped")
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Warn("udptproxy: metrics server stopped")
	}
}
