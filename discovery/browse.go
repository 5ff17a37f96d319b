package discovery

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Relay is one relay found on the local network.
type Relay struct {
	RelayID      string
	InstanceName string
	Version      int
	HostName     string
	Port         int
	Addresses    []string
}

// Browse collects relay advertisements for one scan window.
func Browse(ctx context.Context, config Config) ([]Relay, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Relay)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func(in <-chan *zeroconf.ServiceEntry) {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				if entry == nil {
					continue
				}
				relay, ok := parseEntry(entry)
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[relay.RelayID] = relay
				collectedMu.Unlock()
			}
		}
	}(entries)

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, err
	}

	<-scanCtx.Done()
	<-collectorDone

	// A timeout just means this scan window ended naturally.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	collectedMu.Lock()
	defer collectedMu.Unlock()
	out := make([]Relay, 0, len(collected))
	for _, relay := range collected {
		out = append(out, relay)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstanceName == out[j].InstanceName {
			return out[i].RelayID < out[j].RelayID
		}
		return out[i].InstanceName < out[j].InstanceName
	})
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	txt := txtToMap(entry.Text)

	relayID := strings.TrimSpace(txt["relay_id"])
	if relayID == "" {
		return Relay{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = relayID
	}

	return Relay{
		RelayID:      relayID,
		InstanceName: name,
		Version:      version,
		HostName:     entry.HostName,
		Port:         entry.Port,
		Addresses:    addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
