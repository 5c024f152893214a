package discovery

import (
	"context"
	"net"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Service) Service {
	t.Helper()
	select {
	case svc, ok := <-ch:
		if !ok {
			t.Fatal("Browse channel closed unexpectedly")
		}
		return svc
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for announcement")
	}
	return Service{}
}

func TestHub_BrowseSeesEarlierAnnouncement(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Announce(ctx, Service{Name: "svc", NodeID: "c1", Host: "coord", Port: 7000})
	h.Announce(ctx, Service{Name: "other", NodeID: "x", Host: "x", Port: 1})

	ch, _ := h.Browse(ctx, "svc")
	svc := receive(t, ch)
	if svc.NodeID != "c1" || svc.Addr() != "coord:7000" {
		t.Errorf("Unexpected service %+v", svc)
	}

	select {
	case extra := <-ch:
		t.Errorf("Expected only matching services, got %+v", extra)
	default:
	}
}

func TestHub_AnnouncementEndsWithContext(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	h.Announce(ctx, Service{Name: "svc", NodeID: "c1"})

	if len(h.Announced("svc")) != 1 {
		t.Fatal("Expected one live announcement")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for len(h.Announced("svc")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected announcement to be withdrawn")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BrowseClosesOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Browse(ctx, "svc")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected channel to close")
	}
}

func TestStatic_EmitsSeeds(t *testing.T) {
	s := NewStatic([]Service{
		{Host: "10.0.0.1", Port: 7011},
		{Name: "elsewhere", Host: "10.0.0.2", Port: 7011},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := s.Browse(ctx, "svc")
	svc := receive(t, ch)
	if svc.Name != "svc" || svc.Host != "10.0.0.1" {
		t.Errorf("Expected unnamed seed to match, got %+v", svc)
	}

	select {
	case extra := <-ch:
		t.Errorf("Expected seed for another service to be skipped, got %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStatic_ProbeSkipsDeadSeeds(t *testing.T) {
	s := NewStatic([]Service{
		{Host: "10.0.0.1", Port: 7011},
		{Host: "10.0.0.2", Port: 7011},
	})
	s.Probe = func(ctx context.Context, addr string) bool {
		return addr == "10.0.0.2:7011"
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := s.Browse(ctx, "svc")
	if svc := receive(t, ch); svc.Host != "10.0.0.2" {
		t.Errorf("Expected only the live seed, got %+v", svc)
	}
}

func TestTCPProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("TCP unavailable: %v", err)
	}
	addr := lis.Addr().String()

	probe := TCPProbe(200 * time.Millisecond)
	if !probe(context.Background(), addr) {
		t.Error("Expected listening address to be live")
	}
	lis.Close()
	if probe(context.Background(), addr) {
		t.Error("Expected closed address to be dead")
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("UDP unavailable: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestUDP_AnnounceAndBrowse(t *testing.T) {
	port := freeUDPPort(t)
	u := NewUDP(port, nil)
	u.Target = "127.0.0.1"
	u.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := u.Browse(ctx, "svc")
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	// A second browser on the same port must coexist
	ch2, err := u.Browse(ctx, "svc")
	if err != nil {
		t.Fatalf("Second browse failed: %v", err)
	}

	if err := u.Announce(ctx, Service{Name: "svc", NodeID: "c1", Port: 7011}); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	// Unicast datagrams reach one of the reusing sockets
	var svc Service
	select {
	case svc = <-ch:
	case svc = <-ch2:
	case <-ctx.Done():
		t.Fatal("Timed out waiting for announcement")
	}
	if svc.NodeID != "c1" || svc.Port != 7011 {
		t.Errorf("Unexpected service %+v", svc)
	}
	if svc.Host != "127.0.0.1" {
		t.Errorf("Expected host filled from sender, got %q", svc.Host)
	}
}

func TestParseAnnouncement(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.9"), Port: 5000}

	tests := []struct {
		name string
		body string
		ok   bool
		host string
	}{
		{"valid with host", `{"magic":"coordsync/1","service":{"name":"s","host":"h","port":1}}`, true, "h"},
		{"host from sender", `{"magic":"coordsync/1","service":{"name":"s","port":1}}`, true, "192.168.1.9"},
		{"wrong magic", `{"magic":"x","service":{"name":"s","port":1}}`, false, ""},
		{"no port", `{"magic":"coordsync/1","service":{"name":"s"}}`, false, ""},
		{"garbage", `not json`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ok := parseAnnouncement([]byte(tt.body), from)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && svc.Host != tt.host {
				t.Errorf("Expected host %q, got %q", tt.host, svc.Host)
			}
		})
	}
}
