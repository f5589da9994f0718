package drivers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// CommandRunner executes an external program. env is appended to the
// current process environment.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.Bytes(), err
}

// IPMIDriver power-cycles a machine through its baseboard management
// controller using ipmitool
type IPMIDriver struct {
	toolPath string
	iface    string
	runner   CommandRunner
	prober   Prober
	logger   *slog.Logger
}

// NewIPMIDriver creates an IPMIDriver
func NewIPMIDriver(cfg config.IPMIConfig, prober Prober, logger *slog.Logger) *IPMIDriver {
	return &IPMIDriver{
		toolPath: cfg.ToolPath,
		iface:    cfg.Interface,
		runner:   execRunner,
		prober:   prober,
		logger:   logger,
	}
}

// WithRunner replaces the command runner
func (d *IPMIDriver) WithRunner(runner CommandRunner) *IPMIDriver {
	d.runner = runner
	return d
}

// Name implements Driver
func (d *IPMIDriver) Name() string { return NameIPMI }

// Applicable implements Driver
func (d *IPMIDriver) Applicable(m domain.Machine) bool {
	return m.Addressing.IPMI != nil && m.Addressing.IPMI.User != ""
}

// Reboot implements Driver
func (d *IPMIDriver) Reboot(ctx context.Context, m domain.Machine) error {
	rec := m.Addressing.IPMI
	if rec == nil {
		return domain.ErrNotApplicable
	}

	host := rec.Host
	if host == "" {
		host = m.Host
	}

	// -E reads the password from IPMI_PASSWORD so it never shows up in ps
	args := []string{"-I", d.iface, "-H", host, "-U", rec.User, "-E", "chassis", "power", "cycle"}
	env := []string{"IPMI_PASSWORD=" + rec.Password}

	d.logger.Info("Issuing chassis power cycle",
		slog.String("host", m.Host),
		slog.String("bmc", host),
	)

	out, err := d.runner(ctx, env, d.toolPath, args...)
	if err != nil {
		return fmt.Errorf("%w: ipmitool failed: %v: %s", domain.ErrDriverFailed, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsUp implements Driver
func (d *IPMIDriver) IsUp(ctx context.Context, m domain.Machine) (bool, error) {
	return d.prober.Reachable(ctx, m), nil
}
