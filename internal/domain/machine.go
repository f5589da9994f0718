package domain

// Worker is the external compute identity bound to a Machine
type Worker struct {
	ID         int64  `db:"id" json:"id"`
	TCWorkerID string `db:"tc_worker_id" json:"tc_worker_id"`
}

// Machine is a physical host. Host is its fully-qualified name, which is the
// key into the addressing maps.
type Machine struct {
	ID         int64      `db:"id" json:"id"`
	Host       string     `db:"host" json:"host"`
	IP         string     `db:"ip" json:"ip,omitempty"`
	Addressing Addressing `db:"-" json:"-"`
}

// Addressing holds the protocol-specific records known for a machine. A nil
// record means the corresponding mechanism does not apply.
type Addressing struct {
	SSH  *SSHRecord
	IPMI *IPMIRecord
	PDU  *PDURecord
	Xen  *XenRecord
	ILO  *ILORecord

	// ProbePort is the TCP port that answers while the host is up. Zero
	// means the configured default.
	ProbePort int
}

// SSHRecord addresses a machine for a remote-shell reboot
type SSHRecord struct {
	User    string `json:"user"`
	KeyFile string `json:"key_file"`
	Port    int    `json:"port,omitempty"`
}

// IPMIRecord holds IPMI credentials. Host defaults to the machine host.
type IPMIRecord struct {
	Host     string `json:"host,omitempty"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// PDURecord names the network PDU and the outlet feeding the machine
type PDURecord struct {
	Host   string
	Outlet string
}

// XenRecord identifies the VM on the virtualization host
type XenRecord struct {
	UUID string
}

// ILORecord holds out-of-band controller credentials. Empty user/password fall
// back to the globally configured ones.
type ILORecord struct {
	Host     string `json:"host"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}
