package drivers

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newTestSSHDriver(prober Prober) *SSHDriver {
	return NewSSHDriver(config.SSHConfig{Port: 22, Command: "reboot"}, prober, logger.NewDiscard())
}

// writeTestKey writes a fresh unencrypted ed25519 private key and returns its path
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

// sshServer is an in-process sshd that accepts any key and records exec
// commands. A negative exitStatus means the command never reports one.
type sshServer struct {
	port     int
	commands chan string
}

func startSSHServer(t *testing.T, exitStatus int) *sshServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &sshServer{port: ln.Addr().(*net.TCPAddr).Port, commands: make(chan string, 1)}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(nc, cfg, exitStatus)
		}
	}()
	return srv
}

func (s *sshServer) serve(nc net.Conn, cfg *ssh.ServerConfig, exitStatus int) {
	defer nc.Close()

	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			return
		}

		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}

				var exec struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &exec)
				select {
				case s.commands <- exec.Command:
				default:
				}
				_ = req.Reply(true, nil)

				if exitStatus >= 0 {
					status := struct{ Status uint32 }{uint32(exitStatus)}
					_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
					_ = ch.Close()
				}
			}
		}()
	}
}

func sshMachine(port int, keyFile string) domain.Machine {
	return domain.Machine{Host: "127.0.0.1", Addressing: domain.Addressing{
		SSH: &domain.SSHRecord{User: "reboot-forcecommand-user", KeyFile: keyFile, Port: port},
	}}
}

func TestSSHDriver_Applicable(t *testing.T) {
	d := newTestSSHDriver(nil)

	assert.Equal(t, NameSSH, d.Name())
	assert.False(t, d.Applicable(domain.Machine{Host: "h"}))
	assert.False(t, d.Applicable(domain.Machine{Host: "h", Addressing: domain.Addressing{SSH: &domain.SSHRecord{}}}))
	assert.True(t, d.Applicable(domain.Machine{Host: "h", Addressing: domain.Addressing{SSH: &domain.SSHRecord{User: "u", KeyFile: "k"}}}))
}

func TestSSHDriver_RebootNotApplicable(t *testing.T) {
	err := newTestSSHDriver(nil).Reboot(context.Background(), domain.Machine{Host: "h"})
	assert.ErrorIs(t, err, domain.ErrNotApplicable)
}

func TestSSHDriver_RebootMissingKey(t *testing.T) {
	m := sshMachine(22, filepath.Join(t.TempDir(), "missing.key"))

	err := newTestSSHDriver(nil).Reboot(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read ssh key")
}

func TestSSHDriver_Reboot(t *testing.T) {
	tests := []struct {
		name       string
		exitStatus int
		wantErr    error
	}{
		{name: "command accepted", exitStatus: 0},
		{name: "command rejected", exitStatus: 1, wantErr: domain.ErrDriverFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startSSHServer(t, tt.exitStatus)

			err := newTestSSHDriver(nil).Reboot(context.Background(), sshMachine(srv.port, writeTestKey(t)))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, "reboot", <-srv.commands)
		})
	}
}

func TestSSHDriver_RebootHonoursContext(t *testing.T) {
	// accepts TCP but never speaks ssh
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })
	go func() {
		for {
			conn, err := silent.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, conn)
				conn.Close()
			}()
		}
	}()

	tests := []struct {
		name string
		port func(t *testing.T) int
	}{
		{
			name: "command never reports an exit status",
			port: func(t *testing.T) int { return startSSHServer(t, -1).port },
		},
		{
			name: "server stalls the handshake",
			port: func(t *testing.T) int { return silent.Addr().(*net.TCPAddr).Port },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sshMachine(tt.port(t), writeTestKey(t))
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- newTestSSHDriver(nil).Reboot(ctx, m) }()

			select {
			case err := <-done:
				require.Error(t, err)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.Contains(t, err.Error(), "interrupted")
			case <-time.After(3 * time.Second):
				t.Fatal("Reboot did not return after its context expired")
			}
		})
	}
}

func TestSSHDriver_IsUp(t *testing.T) {
	var asked string
	d := newTestSSHDriver(ProberFunc(func(ctx context.Context, m domain.Machine) bool {
		asked = m.Host
		return true
	}))

	up, err := d.IsUp(context.Background(), domain.Machine{Host: "m1.example.com"})
	require.NoError(t, err)
	assert.True(t, up)
	assert.Equal(t, "m1.example.com", asked)
}

func TestLoadSigner(t *testing.T) {
	signer, err := loadSigner(writeTestKey(t))
	require.NoError(t, err)
	assert.Equal(t, ssh.KeyAlgoED25519, signer.PublicKey().Type())

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	_, err = loadSigner(garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse ssh key")
}

func TestClassifyRunErr(t *testing.T) {
	assert.NoError(t, classifyRunErr(nil))
	assert.NoError(t, classifyRunErr(io.EOF))
	assert.NoError(t, classifyRunErr(&ssh.ExitMissingError{}))

	err := classifyRunErr(errors.New("broken pipe"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run reboot command")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/.ssh/key")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh/key"), got)

	got, err = expandHome("/etc/key")
	require.NoError(t, err)
	assert.Equal(t, "/etc/key", got)
}
