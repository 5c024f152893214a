package discovery

import (
	"context"
	"net"
	"strconv"
)

// Service is an announced coordinator.
type Service struct {
	Name   string `json:"name"`
	NodeID string `json:"nodeId"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// Addr returns the service's dialable host:port.
func (s Service) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Discoverer announces and browses services.
type Discoverer interface {
	// Announce advertises svc until ctx is done. It returns once the
	// announcement is running.
	Announce(ctx context.Context, svc Service) error
	// Browse streams announcements for name until ctx is done, then
	// closes the channel.
	Browse(ctx context.Context, name string) (<-chan Service, error)
}
