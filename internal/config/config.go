// Package config parses the CLI surface of spec §6 via spf13/cobra and
// the TOML upstream list via pelletier/go-toml, grounded on the
// cobra.Command wiring style used throughout the example pack's CLI
// entrypoints.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
)

// Config holds every CLI-gated setting from spec §6's flag table.
type Config struct {
	Host string
	Port uint16

	ListPath  string
	Socks5TCP []string
	Socks5UDP []string

	RemoteDNS bool

	NoCheck              bool
	CheckInterval        time.Duration
	CheckDNSServerV4     string
	CheckDNSServerV6     string
	Socks5TCPCheckInterval time.Duration

	UDPSessionTimeout time.Duration
	UDPMaxSessions    int

	LogLevel string

	// MetricsAddr is the pack's domain-stack addition (prometheus
	// client_golang wiring): the listen address for the scrape endpoint.
	MetricsAddr string
}

// New constructs a Config pre-filled with spec §6's defaults.
func New() *Config {
	return &Config{
		Host:                   "::",
		CheckInterval:          30 * time.Second,
		CheckDNSServerV4:       "1.1.1.1:53",
		CheckDNSServerV6:       "[2606:4700:4700::1111]:53",
		Socks5TCPCheckInterval: 20 * time.Second,
		UDPSessionTimeout:      90 * time.Second,
		UDPMaxSessions:         512,
		LogLevel:               "info",
		MetricsAddr:            ":9090",
	}
}

// NewRootCommand builds the "udptproxy" root cobra.Command. run is
// invoked with the parsed Config once cobra has bound flags to it.
func NewRootCommand(run func(*Config) error) *cobra.Command {
	cfg := New()

	cmd := &cobra.Command{
		Use:   "udptproxy",
		Short: "Transparent UDP proxy that relays flows over SOCKSv5 UDP upstreams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "TPROXY bind address")
	flags.Uint16Var(&cfg.Port, "port", 0, "TPROXY bind port (required)")
	flags.StringVar(&cfg.ListPath, "list", "", "TOML upstream list")
	flags.StringSliceVar(&cfg.Socks5TCP, "socks5-tcp", nil, "SOCKSv5 control endpoints")
	flags.StringSliceVar(&cfg.Socks5UDP, "socks5-udp", nil, "Direct SOCKSv5 UDP endpoints")
	flags.BoolVar(&cfg.RemoteDNS, "remote-dns", false, "Enable QUIC-SNI -> name-target")
	flags.BoolVar(&cfg.NoCheck, "no-check", false, "Disable checker")
	flags.DurationVar(&cfg.CheckInterval, "check-interval", cfg.CheckInterval, "Ping cadence")
	flags.StringVar(&cfg.CheckDNSServerV4, "check-dns-server-v4", cfg.CheckDNSServerV4, "Ping target (v4)")
	flags.StringVar(&cfg.CheckDNSServerV6, "check-dns-server-v6", cfg.CheckDNSServerV6, "Ping target (v6)")
	flags.DurationVar(&cfg.Socks5TCPCheckInterval, "socks5-tcp-check-interval", cfg.Socks5TCPCheckInterval, "Referrer loop cadence")
	flags.DurationVar(&cfg.UDPSessionTimeout, "udp-session-timeout", cfg.UDPSessionTimeout, "Flow LRU idle timeout")
	flags.IntVar(&cfg.UDPMaxSessions, "udp-max-sessions", cfg.UDPMaxSessions, "Flow LRU capacity")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log verbosity")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if cfg.Port == 0 {
			return fmt.Errorf("config: --port is required")
		}
		return nil
	}

	return cmd
}

// ListenAddr builds the TPROXY bind address from Host/Port.
func (c *Config) ListenAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(c.Host, fmt.Sprint(c.Port)))
}

// DNSTargets resolves the configured v4/v6 ping targets.
func (c *Config) DNSTargets() (v4, v6 *net.UDPAddr, err error) {
	v4, err = net.ResolveUDPAddr("udp", c.CheckDNSServerV4)
	if err != nil {
		return nil, nil, fmt.Errorf("config: check-dns-server-v4: %w", err)
	}
	v6, err = net.ResolveUDPAddr("udp", c.CheckDNSServerV6)
	if err != nil {
		return nil, nil, fmt.Errorf("config: check-dns-server-v6: %w", err)
	}
	return v4, v6, nil
}
