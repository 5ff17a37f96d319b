package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"msgrelay/protocol"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_msgrelay._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Config controls relay advertisement and lookup.
type Config struct {
	Service     string
	Domain      string
	Version     int
	ScanTimeout time.Duration

	RelayID      string
	InstanceName string
	Port         int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = protocol.Version
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForBroadcast() error {
	if strings.TrimSpace(c.RelayID) == "" {
		return errors.New("relay ID is required")
	}
	if strings.TrimSpace(c.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if c.Port <= 0 {
		return errors.New("listening port must be > 0")
	}
	return nil
}

// Broadcaster advertises the relay via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	txt := []string{
		"relay_id=" + cfg.RelayID,
		"version=" + strconv.Itoa(cfg.Version),
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}
