package drivers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen accepts and drops connections on a loopback port until the test ends
func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port nothing listens on
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTCPProber_Reachable(t *testing.T) {
	open := listen(t)
	closed := closedPort(t)

	tests := []struct {
		name        string
		defaultPort int
		probePort   int
		want        bool
	}{
		{name: "default port answers", defaultPort: open, want: true},
		{name: "default port closed", defaultPort: closed, want: false},
		{name: "host probe port overrides closed default", defaultPort: closed, probePort: open, want: true},
		{name: "host probe port closed", defaultPort: open, probePort: closed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTCPProber(tt.defaultPort, time.Second)
			m := domain.Machine{Host: "127.0.0.1", Addressing: domain.Addressing{ProbePort: tt.probePort}}

			assert.Equal(t, tt.want, p.Reachable(context.Background(), m))
		})
	}
}
