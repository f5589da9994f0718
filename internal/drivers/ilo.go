package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// ILODriver force-restarts a machine through its out-of-band controller's
// Redfish API
type ILODriver struct {
	username   string
	password   string
	systemPath string
	scheme     string
	client     *http.Client
	prober     Prober
	logger     *slog.Logger
}

// NewILODriver creates an ILODriver
func NewILODriver(cfg config.ILOConfig, prober Prober, logger *slog.Logger) *ILODriver {
	return &ILODriver{
		username:   cfg.Username,
		password:   cfg.Password,
		systemPath: "/" + strings.Trim(cfg.SystemPath, "/"),
		scheme:     "https",
		client:     newHTTPClient(cfg.SkipTLSVerify),
		prober:     prober,
		logger:     logger,
	}
}

type resetRequest struct {
	ResetType string `json:"ResetType"`
}

type computerSystem struct {
	PowerState string `json:"PowerState"`
}

// Name implements Driver
func (d *ILODriver) Name() string { return NameILO }

// Applicable implements Driver
func (d *ILODriver) Applicable(m domain.Machine) bool {
	return m.Addressing.ILO != nil && m.Addressing.ILO.Host != ""
}

// Reboot implements Driver
func (d *ILODriver) Reboot(ctx context.Context, m domain.Machine) error {
	rec := m.Addressing.ILO
	if rec == nil {
		return domain.ErrNotApplicable
	}

	url := d.baseURL(rec) + "/Actions/ComputerSystem.Reset"

	d.logger.Info("Issuing force restart through management controller",
		slog.String("host", m.Host),
		slog.String("controller", rec.Host),
	)

	err := doJSON(ctx, d.client, http.MethodPost, url, resetRequest{ResetType: "ForceRestart"}, nil, d.authorize(rec))
	if err != nil {
		return fmt.Errorf("%w: redfish reset: %v", domain.ErrDriverFailed, err)
	}
	return nil
}

// IsUp implements Driver. The system must report power on and answer on the
// network.
func (d *ILODriver) IsUp(ctx context.Context, m domain.Machine) (bool, error) {
	rec := m.Addressing.ILO
	if rec == nil {
		return false, domain.ErrNotApplicable
	}

	var system computerSystem
	if err := doJSON(ctx, d.client, http.MethodGet, d.baseURL(rec), nil, &system, d.authorize(rec)); err != nil {
		return false, err
	}
	if system.PowerState != "On" {
		return false, nil
	}
	return d.prober.Reachable(ctx, m), nil
}

func (d *ILODriver) baseURL(rec *domain.ILORecord) string {
	host := strings.TrimSuffix(rec.Host, "/")
	if !strings.Contains(host, "://") {
		host = d.scheme + "://" + host
	}
	return host + d.systemPath
}

func (d *ILODriver) authorize(rec *domain.ILORecord) func(*http.Request) {
	user, password := rec.User, rec.Password
	if user == "" {
		user = d.username
	}
	if password == "" {
		password = d.password
	}
	return func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
}
