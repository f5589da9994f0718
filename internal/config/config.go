package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Defaults used when the config file leaves a value unset
const (
	DefaultServiceName   = "relops-hardware-controller"
	DefaultDownTimeout   = 60 * time.Second
	DefaultUpTimeout     = 300 * time.Second
	DefaultProbeInterval = 5 * time.Second
	DefaultProbePort     = 22
	DefaultProbeTimeout  = 3 * time.Second
	DefaultSoftTimeLimit = 5 * time.Minute
	DefaultHardTimeLimit = 2 * DefaultSoftTimeLimit
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Controller ControllerConfig `yaml:"controller"`
	Auth       AuthConfig       `yaml:"auth"`
	Reboot     RebootConfig     `yaml:"reboot"`
	Inventory  InventoryConfig  `yaml:"inventory"`
	SSH        SSHConfig        `yaml:"ssh"`
	IPMI       IPMIConfig       `yaml:"ipmi"`
	SNMP       SNMPConfig       `yaml:"snmp"`
	Xen        XenConfig        `yaml:"xen"`
	ILO        ILOConfig        `yaml:"ilo"`
	Bugzilla   BugzillaConfig   `yaml:"bugzilla"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	User                 string        `yaml:"user"`
	Password             string        `yaml:"password"`
	Database             string        `yaml:"database"`
	SSLMode              string        `yaml:"sslmode"`
	MaxOpenConns         int           `yaml:"max_open_conns"`
	MaxIdleConns         int           `yaml:"max_idle_conns"`
	ConnMaxLifetime      time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime      time.Duration `yaml:"conn_max_idle_time"`
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
	DeadLetter string `yaml:"dead_letter"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// ControllerConfig holds the request-facing settings of the controller
type ControllerConfig struct {
	ServiceName string   `yaml:"service_name"`
	TaskNames   []string `yaml:"task_names"`
	CORSOrigin  string   `yaml:"cors_origin"`
}

// AuthConfig lists the clients allowed to call the API
type AuthConfig struct {
	Clients []AuthClient `yaml:"clients"`
}

// AuthClient is one credential with the scopes it holds
type AuthClient struct {
	ClientID    string   `yaml:"client_id"`
	AccessToken string   `yaml:"access_token"`
	Scopes      []string `yaml:"scopes"`
}

// RebootConfig holds escalation timing
type RebootConfig struct {
	DownTimeout   time.Duration `yaml:"down_timeout"`
	UpTimeout     time.Duration `yaml:"up_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbePort     int           `yaml:"probe_port"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	SoftTimeLimit time.Duration `yaml:"soft_time_limit"`
	HardTimeLimit time.Duration `yaml:"hard_time_limit"`
}

// InventoryConfig holds paths to the FQDN -> addressing record maps
type InventoryConfig struct {
	SSHFile  string `yaml:"ssh_file"`
	IPMIFile string `yaml:"ipmi_file"`
	PDUFile  string `yaml:"pdu_file"`
	XenFile  string `yaml:"xen_file"`
	ILOFile  string `yaml:"ilo_file"`
}

// SSHConfig holds settings for the ssh driver
type SSHConfig struct {
	Port           int           `yaml:"port"`
	Command        string        `yaml:"command"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// IPMIConfig holds settings for the ipmi driver
type IPMIConfig struct {
	ToolPath  string `yaml:"tool_path"`
	Interface string `yaml:"interface"`
}

// SNMPConfig holds settings for the snmp PDU driver
type SNMPConfig struct {
	Port      uint16        `yaml:"port"`
	Community string        `yaml:"community"`
	OutletOID string        `yaml:"outlet_oid"`
	RebootCmd int           `yaml:"reboot_command"`
	Timeout   time.Duration `yaml:"timeout"`
}

// XenConfig holds XenAPI endpoint and credentials
type XenConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ILOConfig holds default out-of-band controller credentials
type ILOConfig struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SystemPath    string `yaml:"system_path"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
}

// BugzillaConfig holds the ticketing endpoint
type BugzillaConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	Product   string `yaml:"product"`
	Component string `yaml:"component"`
}

// MetricsConfig holds the metrics listener of the worker service
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	return &config, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file
func (c *Config) applyEnvOverrides() {
	overrides := map[string]*string{
		"DATABASE_PASSWORD": &c.Database.Password,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"BUGZILLA_API_KEY":  &c.Bugzilla.APIKey,
		"XEN_PASSWORD":      &c.Xen.Password,
		"ILO_PASSWORD":      &c.ILO.Password,
	}
	for env, target := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*target = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Database.ConnectRetries == 0 {
		c.Database.ConnectRetries = 5
	}
	if c.Database.ConnectRetryInterval == 0 {
		c.Database.ConnectRetryInterval = 2 * time.Second
	}
	if c.Controller.ServiceName == "" {
		c.Controller.ServiceName = DefaultServiceName
	}
	if len(c.Controller.TaskNames) == 0 {
		c.Controller.TaskNames = []string{"reboot"}
	}
	if c.Reboot.DownTimeout == 0 {
		c.Reboot.DownTimeout = DefaultDownTimeout
	}
	if c.Reboot.UpTimeout == 0 {
		c.Reboot.UpTimeout = DefaultUpTimeout
	}
	if c.Reboot.ProbeInterval == 0 {
		c.Reboot.ProbeInterval = DefaultProbeInterval
	}
	if c.Reboot.ProbePort == 0 {
		c.Reboot.ProbePort = DefaultProbePort
	}
	if c.Reboot.ProbeTimeout == 0 {
		c.Reboot.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Reboot.SoftTimeLimit == 0 {
		c.Reboot.SoftTimeLimit = DefaultSoftTimeLimit
	}
	if c.Reboot.HardTimeLimit == 0 {
		c.Reboot.HardTimeLimit = DefaultHardTimeLimit
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Command == "" {
		c.SSH.Command = "reboot"
	}
	if c.SSH.ConnectTimeout == 0 {
		c.SSH.ConnectTimeout = 10 * time.Second
	}
	if c.IPMI.ToolPath == "" {
		c.IPMI.ToolPath = "ipmitool"
	}
	if c.IPMI.Interface == "" {
		c.IPMI.Interface = "lanplus"
	}
	if c.SNMP.Port == 0 {
		c.SNMP.Port = 161
	}
	if c.SNMP.Community == "" {
		c.SNMP.Community = "private"
	}
	if c.SNMP.OutletOID == "" {
		// Sentry3 outletControlAction
		c.SNMP.OutletOID = ".1.3.6.1.4.1.1718.3.2.3.1.11"
	}
	if c.SNMP.RebootCmd == 0 {
		c.SNMP.RebootCmd = 3
	}
	if c.SNMP.Timeout == 0 {
		c.SNMP.Timeout = 5 * time.Second
	}
	if c.ILO.SystemPath == "" {
		c.ILO.SystemPath = "/redfish/v1/Systems/1"
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = 30 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

// HasTask reports whether name is in the task allow-list
func (c *ControllerConfig) HasTask(name string) bool {
	for _, t := range c.TaskNames {
		if t == name {
			return true
		}
	}
	return false
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings needed by the api service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if len(c.Controller.TaskNames) == 0 {
		return fmt.Errorf("controller task_names must not be empty")
	}

	for i, client := range c.Auth.Clients {
		if client.AccessToken == "" {
			return fmt.Errorf("auth client %d (%s) has no access_token", i, client.ClientID)
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings needed by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Reboot.DownTimeout <= 0 || c.Reboot.UpTimeout <= 0 {
		return fmt.Errorf("reboot down_timeout and up_timeout must be greater than 0")
	}

	if c.Reboot.ProbeInterval <= 0 {
		return fmt.Errorf("reboot probe_interval must be greater than 0")
	}

	if c.Reboot.ProbePort < 1 || c.Reboot.ProbePort > MaxPort {
		return fmt.Errorf("reboot probe_port must be between 1 and %d", MaxPort)
	}

	if c.Reboot.SoftTimeLimit <= 0 {
		return fmt.Errorf("reboot soft_time_limit must be greater than 0")
	}

	if c.Reboot.HardTimeLimit < c.Reboot.SoftTimeLimit {
		return fmt.Errorf("reboot hard_time_limit (%s) must not be less than soft_time_limit (%s)", c.Reboot.HardTimeLimit, c.Reboot.SoftTimeLimit)
	}

	return nil
}
