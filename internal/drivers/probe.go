package drivers

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// Prober checks whether a machine answers on the network
type Prober interface {
	Reachable(ctx context.Context, m domain.Machine) bool
}

// TCPProber considers a machine up when a TCP connection to its probe port
// succeeds. Machines without a ProbePort in their addressing use Port.
type TCPProber struct {
	Port    int
	Timeout time.Duration
}

// NewTCPProber creates a TCPProber
func NewTCPProber(port int, timeout time.Duration) *TCPProber {
	return &TCPProber{Port: port, Timeout: timeout}
}

// Reachable implements Prober
func (p *TCPProber) Reachable(ctx context.Context, m domain.Machine) bool {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(m.Host, strconv.Itoa(p.portFor(m))))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p *TCPProber) portFor(m domain.Machine) int {
	if m.Addressing.ProbePort > 0 {
		return m.Addressing.ProbePort
	}
	return p.Port
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, m domain.Machine) bool

// Reachable implements Prober
func (f ProberFunc) Reachable(ctx context.Context, m domain.Machine) bool {
	return f(ctx, m)
}
