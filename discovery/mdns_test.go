package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestStartBroadcasterBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		RelayID:      "relay-123",
		InstanceName: "Basement Relay",
		Port:         1357,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		t.Fatalf("StartBroadcaster failed: %v", err)
	}
	if broadcaster == nil {
		t.Fatalf("expected broadcaster instance")
	}
	broadcaster.Stop()

	if gotInstance != "Basement Relay" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 1357 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	assertContainsTXT(t, gotTXT, "relay_id=relay-123")
	assertContainsTXT(t, gotTXT, "version=2")
}

func TestStartBroadcasterValidatesConfig(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		t.Fatalf("register must not be called for invalid config")
		return nil, nil
	}

	for name, cfg := range map[string]Config{
		"missing relay id": {InstanceName: "x", Port: 1, registerFn: register},
		"missing name":     {RelayID: "r", Port: 1, registerFn: register},
		"missing port":     {RelayID: "r", InstanceName: "x", registerFn: register},
	} {
		if _, err := StartBroadcaster(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestBrowseCollectsRelays(t *testing.T) {
	cfg := Config{
		ScanTimeout: 40 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testServiceEntry("relay-b", "Beta", 2000, "10.0.0.2")
			entries <- testServiceEntry("relay-a", "Alpha", 1000, "10.0.0.1")
			entries <- testServiceEntry("relay-a", "Alpha", 1000, "10.0.0.1")
			entries <- &zeroconf.ServiceEntry{Text: []string{"version=2"}}
			<-ctx.Done()
			return nil
		},
	}

	relays, err := Browse(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("expected 2 relays, got %+v", relays)
	}
	if relays[0].RelayID != "relay-a" || relays[0].Port != 1000 || relays[0].Version != 2 {
		t.Fatalf("unexpected first relay: %+v", relays[0])
	}
	if len(relays[1].Addresses) != 1 || relays[1].Addresses[0] != "10.0.0.2" {
		t.Fatalf("unexpected addresses: %+v", relays[1].Addresses)
	}
}

func TestBrowseAfterResolverClosesEntries(t *testing.T) {
	cfg := Config{
		ScanTimeout: 60 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testServiceEntry("relay-a", "Alpha", 1000, "10.0.0.1")
			close(entries)
			return nil
		},
	}

	start := time.Now()
	relays, err := Browse(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(relays) != 1 || relays[0].RelayID != "relay-a" {
		t.Fatalf("unexpected relays: %+v", relays)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Browse took %s after entries closed", elapsed)
	}
}

func TestBrowseHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		ScanTimeout: time.Second,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}
	if _, err := Browse(ctx, cfg); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func testServiceEntry(relayID, instance string, port int, ip string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  DefaultService,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local",
		Port:     port,
		Text: []string{
			"relay_id=" + relayID,
			"version=2",
		},
		AddrIPv4: []net.IP{net.ParseIP(ip)},
	}
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, v := range txt {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing TXT record %q in %v", expected, txt)
}
