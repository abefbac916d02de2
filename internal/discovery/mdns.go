// ABOUTME: mDNS discovery of local voice bridges
// ABOUTME: Bridges advertise _walkie-bridge._tcp; clients look one up to build the endpoint URL
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service advertised by a bridge
const ServiceType = "_walkie-bridge._tcp"

// ErrNotFound is returned when no bridge answers before the timeout
var ErrNotFound = errors.New("no bridge found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	server *mdns.Server
}

// BridgeInfo describes a discovered bridge
type BridgeInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the WebSocket endpoint of the bridge
func (b BridgeInfo) URL() string {
	path := b.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) + path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/"
	}
	return &Manager{config: config}
}

// Advertise announces the bridge until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")
	return nil
}

// Stop withdraws the advertisement
func (m *Manager) Stop() {
	if m.server != nil {
		if err := m.server.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("mdns shutdown error")
		}
		m.server = nil
	}
}

// Lookup returns the first bridge that answers within timeout
func Lookup(ctx context.Context, timeout time.Duration) (*BridgeInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := make(chan *BridgeInfo, 1)

	go func() {
		for entry := range entries {
			info := entryToInfo(entry)
			if info == nil {
				continue
			}
			log.Info().Str("name", info.Name).Str("url", info.URL()).Msg("discovered bridge")
			select {
			case found <- info:
			default:
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: timeout,
		Entries: entries,
	}

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entries)
	}()

	select {
	case info := <-found:
		return info, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-queryErr:
		if err != nil {
			return nil, fmt.Errorf("mdns query failed: %w", err)
		}
		select {
		case info := <-found:
			return info, nil
		case <-time.After(50 * time.Millisecond):
			return nil, ErrNotFound
		}
	}
}

func entryToInfo(entry *mdns.ServiceEntry) *BridgeInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}

	info := &BridgeInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: "/",
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok {
			info.Path = v
		}
	}
	return info
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
