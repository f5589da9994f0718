package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// XenDriver hard-reboots a virtual machine through the XenAPI JSON-RPC
// endpoint
type XenDriver struct {
	url      string
	enabled  bool
	username string
	password string
	client   *http.Client
	prober   Prober
	logger   *slog.Logger
	nextID   atomic.Int64
}

// NewXenDriver creates a XenDriver
func NewXenDriver(cfg config.XenConfig, prober Prober, logger *slog.Logger) *XenDriver {
	return &XenDriver{
		url:      strings.TrimSuffix(cfg.URL, "/") + "/jsonrpc",
		enabled:  cfg.URL != "",
		username: cfg.Username,
		password: cfg.Password,
		client:   newHTTPClient(false),
		prober:   prober,
		logger:   logger,
	}
}

type xenRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type xenResponse struct {
	Result any       `json:"result"`
	Error  *xenError `json:"error"`
}

type xenError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *xenError) Error() string {
	return fmt.Sprintf("xenapi error %d: %s", e.Code, e.Message)
}

// Name implements Driver
func (d *XenDriver) Name() string { return NameXen }

// Applicable implements Driver
func (d *XenDriver) Applicable(m domain.Machine) bool {
	return d.enabled && m.Addressing.Xen != nil && m.Addressing.Xen.UUID != ""
}

// Reboot implements Driver
func (d *XenDriver) Reboot(ctx context.Context, m domain.Machine) error {
	rec := m.Addressing.Xen
	if rec == nil {
		return domain.ErrNotApplicable
	}

	d.logger.Info("Hard rebooting VM",
		slog.String("host", m.Host),
		slog.String("vm_uuid", rec.UUID),
	)

	return d.withSession(ctx, func(session string) error {
		ref, err := d.vmRef(ctx, session, rec.UUID)
		if err != nil {
			return err
		}
		if _, err := d.call(ctx, "VM.hard_reboot", session, ref); err != nil {
			return fmt.Errorf("%w: VM.hard_reboot: %v", domain.ErrDriverFailed, err)
		}
		return nil
	})
}

// IsUp implements Driver. The VM must be running and answering on the network.
func (d *XenDriver) IsUp(ctx context.Context, m domain.Machine) (bool, error) {
	rec := m.Addressing.Xen
	if rec == nil {
		return false, domain.ErrNotApplicable
	}

	var state string
	err := d.withSession(ctx, func(session string) error {
		ref, err := d.vmRef(ctx, session, rec.UUID)
		if err != nil {
			return err
		}
		result, err := d.call(ctx, "VM.get_power_state", session, ref)
		if err != nil {
			return err
		}
		state, _ = result.(string)
		return nil
	})
	if err != nil {
		return false, err
	}

	if state != "Running" {
		return false, nil
	}
	return d.prober.Reachable(ctx, m), nil
}

func (d *XenDriver) withSession(ctx context.Context, fn func(session string) error) error {
	result, err := d.call(ctx, "session.login_with_password", d.username, d.password)
	if err != nil {
		return fmt.Errorf("%w: xenapi login: %v", domain.ErrDriverFailed, err)
	}
	session, ok := result.(string)
	if !ok {
		return fmt.Errorf("%w: xenapi login returned no session", domain.ErrDriverFailed)
	}

	defer func() {
		if _, err := d.call(context.WithoutCancel(ctx), "session.logout", session); err != nil {
			d.logger.Warn("XenAPI logout failed", slog.String("error", err.Error()))
		}
	}()

	return fn(session)
}

func (d *XenDriver) vmRef(ctx context.Context, session, uuid string) (string, error) {
	result, err := d.call(ctx, "VM.get_by_uuid", session, uuid)
	if err != nil {
		return "", fmt.Errorf("%w: VM.get_by_uuid %s: %v", domain.ErrDriverFailed, uuid, err)
	}
	ref, ok := result.(string)
	if !ok || ref == "" {
		return "", fmt.Errorf("%w: no VM with uuid %s", domain.ErrDriverFailed, uuid)
	}
	return ref, nil
}

func (d *XenDriver) call(ctx context.Context, method string, params ...any) (any, error) {
	req := xenRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      d.nextID.Add(1),
	}

	var resp xenResponse
	if err := doJSON(ctx, d.client, http.MethodPost, d.url, req, &resp, nil); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
