// Package drivers implements the reboot mechanisms tried by the escalation
// engine. Each driver decides on its own whether it applies to a machine and
// how to tell whether the machine is up.
package drivers

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// Driver names, in escalation priority order
const (
	NameSSH  = "ssh"
	NameIPMI = "ipmi"
	NameSNMP = "snmp"
	NameXen  = "xen"
	NameILO  = "ilo"
)

// Order is the fixed priority in which drivers are attempted
var Order = []string{NameSSH, NameIPMI, NameSNMP, NameXen, NameILO}

// Driver is one reboot mechanism
type Driver interface {
	// Name returns the driver name used in attempts and metrics
	Name() string

	// Applicable reports whether the machine carries an addressing record
	// for this mechanism
	Applicable(m domain.Machine) bool

	// Reboot issues the reboot action. It returns once the action has been
	// accepted; the physical effect is observed through IsUp.
	Reboot(ctx context.Context, m domain.Machine) error

	// IsUp reports whether the machine is currently reachable
	IsUp(ctx context.Context, m domain.Machine) (bool, error)
}

// Build constructs every driver in priority order
func Build(cfg *config.Config, prober Prober, logger *slog.Logger) []Driver {
	return []Driver{
		NewSSHDriver(cfg.SSH, prober, logger),
		NewIPMIDriver(cfg.IPMI, prober, logger),
		NewSNMPDriver(cfg.SNMP, prober, logger),
		NewXenDriver(cfg.Xen, prober, logger),
		NewILODriver(cfg.ILO, prober, logger),
	}
}
