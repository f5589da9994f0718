package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"golang.org/x/crypto/ssh"
)

// SSHDriver reboots a machine by running a command over SSH
type SSHDriver struct {
	port    int
	command string
	timeout time.Duration
	prober  Prober
	logger  *slog.Logger
}

// NewSSHDriver creates an SSHDriver
func NewSSHDriver(cfg config.SSHConfig, prober Prober, logger *slog.Logger) *SSHDriver {
	return &SSHDriver{
		port:    cfg.Port,
		command: cfg.Command,
		timeout: cfg.ConnectTimeout,
		prober:  prober,
		logger:  logger,
	}
}

// Name implements Driver
func (d *SSHDriver) Name() string { return NameSSH }

// Applicable implements Driver
func (d *SSHDriver) Applicable(m domain.Machine) bool {
	return m.Addressing.SSH != nil && m.Addressing.SSH.User != ""
}

// Reboot implements Driver
func (d *SSHDriver) Reboot(ctx context.Context, m domain.Machine) error {
	rec := m.Addressing.SSH
	if rec == nil {
		return domain.ErrNotApplicable
	}

	signer, err := loadSigner(rec.KeyFile)
	if err != nil {
		return err
	}

	port := d.port
	if rec.Port != 0 {
		port = rec.Port
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(port))

	clientCfg := &ssh.ClientConfig{
		User: rec.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// #nosec G106 -- hosts are reimaged regularly, their keys are not pinned
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.timeout,
	}

	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Neither the handshake nor a running session watches ctx. Closing the
	// connection unblocks both.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ssh handshake with %s interrupted: %w", addr, ctxErr)
		}
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ssh session with %s interrupted: %w", addr, ctxErr)
		}
		return fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	d.logger.Info("Issuing reboot over ssh",
		slog.String("host", m.Host),
		slog.String("user", rec.User),
	)

	err = session.Run(d.command)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("reboot command on %s interrupted: %w", addr, ctxErr)
	}
	return classifyRunErr(err)
}

// IsUp implements Driver
func (d *SSHDriver) IsUp(ctx context.Context, m domain.Machine) (bool, error) {
	return d.prober.Reachable(ctx, m), nil
}

// classifyRunErr treats a dropped connection as an accepted reboot: the
// remote side usually goes away before reporting an exit status.
func classifyRunErr(err error) error {
	if err == nil {
		return nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) || errors.Is(err, io.EOF) {
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: reboot command exited with status %d", domain.ErrDriverFailed, exitErr.ExitStatus())
	}

	return fmt.Errorf("failed to run reboot command: %w", err)
}

func loadSigner(keyFile string) (ssh.Signer, error) {
	path, err := expandHome(keyFile)
	if err != nil {
		return nil, err
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", path, err)
	}
	return signer, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
