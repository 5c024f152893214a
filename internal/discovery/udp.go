package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"coordsync/internal/logging"
)

const (
	// DefaultAnnouncePort is the UDP port announcements are sent to.
	DefaultAnnouncePort = 47011
	// DefaultAnnounceInterval is how often a coordinator re-announces.
	DefaultAnnounceInterval = time.Second

	maxDatagram = 2048
)

// announcement is the datagram body.
type announcement struct {
	Magic   string  `json:"magic"`
	Service Service `json:"service"`
}

const announceMagic = "coordsync/1"

// UDP announces by broadcasting datagrams and browses by listening for
// them. Several processes on one host can browse the same port.
type UDP struct {
	// Port is the announce port shared by every node of a network.
	Port int
	// Target is the host announcements are sent to. Defaults to the IPv4
	// limited broadcast address.
	Target   string
	Interval time.Duration
	Logger   *logging.Logger
}

var _ Discoverer = (*UDP)(nil)

// NewUDP creates a UDP discoverer on port.
func NewUDP(port int, logger *logging.Logger) *UDP {
	if port <= 0 {
		port = DefaultAnnouncePort
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &UDP{
		Port:     port,
		Target:   "255.255.255.255",
		Interval: DefaultAnnounceInterval,
		Logger:   logger.WithComponent(logging.ComponentDiscovery),
	}
}

func (u *UDP) Announce(ctx context.Context, svc Service) error {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(u.Target, strconv.Itoa(u.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve announce address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("failed to open announce socket: %w", err)
	}
	body, err := json.Marshal(announcement{Magic: announceMagic, Service: svc})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	interval := u.Interval
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}

	go func() {
		defer conn.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := conn.WriteToUDP(body, dst); err != nil {
				u.Logger.Debug("announce failed", "service", svc.Name, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	u.Logger.Info("announcing service", "service", svc.Name, "addr", svc.Addr(), "port", u.Port)
	return nil
}

func (u *UDP) Browse(ctx context.Context, name string) (<-chan Service, error) {
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(u.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for announcements on %d: %w", u.Port, err)
	}

	ch := make(chan Service, 16)
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	go func() {
		defer close(ch)
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			svc, ok := parseAnnouncement(buf[:n], from)
			if !ok || svc.Name != name {
				continue
			}
			select {
			case ch <- svc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// parseAnnouncement decodes a datagram. An empty host is replaced by the
// sender's address.
func parseAnnouncement(b []byte, from net.Addr) (Service, bool) {
	var a announcement
	if err := json.Unmarshal(b, &a); err != nil || a.Magic != announceMagic {
		return Service{}, false
	}
	if a.Service.Host == "" {
		if udp, ok := from.(*net.UDPAddr); ok {
			a.Service.Host = udp.IP.String()
		}
	}
	return a.Service, a.Service.Port > 0
}
