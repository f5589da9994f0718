// Package inventory loads the per-protocol addressing maps keyed by fully
// qualified hostname. The files are JSON and may carry comments.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/tidwall/jsonc"
)

// entry is the union of the record shapes found across the map files
type entry struct {
	SSH     *domain.SSHRecord  `json:"ssh"`
	IPMI    *domain.IPMIRecord `json:"ipmi"`
	PDU     string             `json:"pdu"`
	XenUUID string             `json:"xen_uuid"`
	ILO     *domain.ILORecord  `json:"ilo"`

	// ProbePort may appear in any map file
	ProbePort int `json:"probe_port"`
}

// Inventory is read-only after Load
type Inventory struct {
	hosts map[string]domain.Addressing
}

// New builds an inventory from already-resolved records
func New(hosts map[string]domain.Addressing) *Inventory {
	inv := &Inventory{hosts: make(map[string]domain.Addressing, len(hosts))}
	for host, a := range hosts {
		inv.hosts[normalize(host)] = a
	}
	return inv
}

// Load reads every configured map file and merges the records per host.
// Empty paths are skipped.
func Load(cfg config.InventoryConfig) (*Inventory, error) {
	inv := &Inventory{hosts: make(map[string]domain.Addressing)}

	for _, path := range []string{cfg.SSHFile, cfg.IPMIFile, cfg.PDUFile, cfg.XenFile, cfg.ILOFile} {
		if path == "" {
			continue
		}
		if err := inv.loadFile(path); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

func (inv *Inventory) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read inventory file %s: %w", path, err)
	}

	var entries map[string]entry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return fmt.Errorf("failed to parse inventory file %s: %w", path, err)
	}

	for host, e := range entries {
		key := normalize(host)
		a := inv.hosts[key]

		if e.SSH != nil {
			a.SSH = e.SSH
		}
		if e.IPMI != nil {
			a.IPMI = e.IPMI
		}
		if e.PDU != "" {
			pdu, err := ParsePDU(e.PDU)
			if err != nil {
				return fmt.Errorf("inventory file %s, host %s: %w", path, host, err)
			}
			a.PDU = pdu
		}
		if e.XenUUID != "" {
			a.Xen = &domain.XenRecord{UUID: e.XenUUID}
		}
		if e.ILO != nil {
			a.ILO = e.ILO
		}
		if e.ProbePort < 0 || e.ProbePort > config.MaxPort {
			return fmt.Errorf("inventory file %s, host %s: invalid probe_port %d", path, host, e.ProbePort)
		}
		if e.ProbePort != 0 {
			a.ProbePort = e.ProbePort
		}

		inv.hosts[key] = a
	}

	return nil
}

// Lookup returns the addressing records for host. Unknown hosts get an empty
// Addressing, which makes every driver inapplicable.
func (inv *Inventory) Lookup(host string) domain.Addressing {
	return inv.hosts[normalize(host)]
}

// Len returns the number of hosts with at least one record
func (inv *Inventory) Len() int {
	return len(inv.hosts)
}

// ParsePDU splits "pdu-host:outlet" into its parts
func ParsePDU(s string) (*domain.PDURecord, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return nil, fmt.Errorf("invalid pdu address %q (want host:outlet)", s)
	}
	return &domain.PDURecord{Host: s[:i], Outlet: s[i+1:]}, nil
}

func normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
