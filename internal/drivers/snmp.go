package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/gosnmp/gosnmp"
)

// OIDSetter writes a single integer value to an SNMP agent
type OIDSetter func(ctx context.Context, host, oid string, value int) error

// SNMPDriver power-cycles a machine by switching its outlet on a network PDU
type SNMPDriver struct {
	port      uint16
	community string
	outletOID string
	rebootCmd int
	timeout   time.Duration
	setter    OIDSetter
	prober    Prober
	logger    *slog.Logger
}

// NewSNMPDriver creates an SNMPDriver
func NewSNMPDriver(cfg config.SNMPConfig, prober Prober, logger *slog.Logger) *SNMPDriver {
	d := &SNMPDriver{
		port:      cfg.Port,
		community: cfg.Community,
		outletOID: strings.TrimSuffix(cfg.OutletOID, "."),
		rebootCmd: cfg.RebootCmd,
		timeout:   cfg.Timeout,
		prober:    prober,
		logger:    logger,
	}
	d.setter = d.snmpSet
	return d
}

// WithSetter replaces the SNMP set operation
func (d *SNMPDriver) WithSetter(setter OIDSetter) *SNMPDriver {
	d.setter = setter
	return d
}

// Name implements Driver
func (d *SNMPDriver) Name() string { return NameSNMP }

// Applicable implements Driver
func (d *SNMPDriver) Applicable(m domain.Machine) bool {
	return m.Addressing.PDU != nil && m.Addressing.PDU.Host != "" && m.Addressing.PDU.Outlet != ""
}

// Reboot implements Driver
func (d *SNMPDriver) Reboot(ctx context.Context, m domain.Machine) error {
	rec := m.Addressing.PDU
	if rec == nil {
		return domain.ErrNotApplicable
	}

	index, err := OutletIndex(rec.Outlet)
	if err != nil {
		return err
	}
	oid := d.outletOID + "." + index

	d.logger.Info("Switching PDU outlet",
		slog.String("host", m.Host),
		slog.String("pdu", rec.Host),
		slog.String("outlet", rec.Outlet),
		slog.String("oid", oid),
	)

	if err := d.setter(ctx, rec.Host, oid, d.rebootCmd); err != nil {
		return fmt.Errorf("%w: snmp set on %s failed: %v", domain.ErrDriverFailed, rec.Host, err)
	}
	return nil
}

// IsUp implements Driver
func (d *SNMPDriver) IsUp(ctx context.Context, m domain.Machine) (bool, error) {
	return d.prober.Reachable(ctx, m), nil
}

func (d *SNMPDriver) snmpSet(ctx context.Context, host, oid string, value int) error {
	client := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    host,
		Port:      d.port,
		Community: d.community,
		Version:   gosnmp.Version2c,
		Timeout:   d.timeout,
		Retries:   1,
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Conn.Close()

	result, err := client.Set([]gosnmp.SnmpPDU{{
		Name:  oid,
		Type:  gosnmp.Integer,
		Value: value,
	}})
	if err != nil {
		return err
	}
	if result.Error != gosnmp.NoError {
		return fmt.Errorf("agent returned %s", result.Error)
	}
	return nil
}

// OutletIndex converts an outlet label such as "AA12" (tower A, infeed A,
// outlet 12) into the OID suffix "1.1.12"
func OutletIndex(label string) (string, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if len(label) < 3 {
		return "", fmt.Errorf("invalid outlet label %q", label)
	}

	tower, infeed := label[0], label[1]
	if tower < 'A' || tower > 'Z' || infeed < 'A' || infeed > 'Z' {
		return "", fmt.Errorf("invalid outlet label %q", label)
	}

	outlet, err := strconv.Atoi(label[2:])
	if err != nil || outlet < 1 {
		return "", fmt.Errorf("invalid outlet label %q", label)
	}

	return fmt.Sprintf("%d.%d.%d", tower-'A'+1, infeed-'A'+1, outlet), nil
}
