package config

import (
	"fmt"
	"net"

	"github.com/pelletier/go-toml"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

// upstreamListFile mirrors spec §6's TOML schema: a top-level `upstreams`
// array of tables.
type upstreamListFile struct {
	Upstreams []upstreamEntry `toml:"upstreams"`
}

type upstreamEntry struct {
	Protocol   string `toml:"protocol"`
	Address    string `toml:"address"`
	Enabled    bool   `toml:"enabled"`
	InnerProto string `toml:"inner_proto"`
}

// UpstreamSpec is one statically-configured upstream, ready to feed
// upstream.New and upstream.Pool.Add.
type UpstreamSpec struct {
	Name       string
	Addr       *net.UDPAddr
	Protocol   upstream.Protocol
	InnerProto upstream.InnerProto
}

// LoadUpstreamList parses the TOML file at path (the --list flag),
// skipping disabled entries per spec §6.
func LoadUpstreamList(path string) ([]UpstreamSpec, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load upstream list %s: %w", path, err)
	}

	var parsed upstreamListFile
	if err := tree.Unmarshal(&parsed); err != nil {
		return nil, fmt.Errorf("config: parse upstream list %s: %w", path, err)
	}

	specs := make([]UpstreamSpec, 0, len(parsed.Upstreams))
	for _, e := range parsed.Upstreams {
		if !e.Enabled {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", e.Address)
		if err != nil {
			return nil, fmt.Errorf("config: upstream %s: %w", e.Address, err)
		}
		proto, err := parseProtocol(e.Protocol)
		if err != nil {
			return nil, fmt.Errorf("config: upstream %s: %w", e.Address, err)
		}
		specs = append(specs, UpstreamSpec{
			Name:       e.Address,
			Addr:       addr,
			Protocol:   proto,
			InnerProto: upstream.ParseInnerProto(e.InnerProto),
		})
	}
	return specs, nil
}

func parseProtocol(s string) (upstream.Protocol, error) {
	switch s {
	case "socks5_udp":
		return upstream.ProtocolSocks5UDP, nil
	case "socks5_tcp":
		return upstream.ProtocolSocks5TCP, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}
