package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"mailroom/internal/logging"
)

// MailboxConfig holds the upstream IMAP and outbound SMTP account.
type MailboxConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	IMAPHost string `yaml:"imap_host"`
	IMAPPort int    `yaml:"imap_port"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Folder   string `yaml:"folder"`
	// SendID enables the IMAP ID handshake after login. Some providers
	// (e.g. 163) reject clients that skip it.
	SendID bool `yaml:"send_id"`
}

// IMAPAddr returns the host:port of the IMAP server.
func (c MailboxConfig) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", c.IMAPHost, c.IMAPPort)
}

// SMTPAddr returns the host:port of the SMTP relay.
func (c MailboxConfig) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// DatabaseConfig holds the MySQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN returns the go-sql-driver data source name.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// StorageConfig holds the attachment store settings.
type StorageConfig struct {
	AttachmentPath string `yaml:"attachment_path"`
}

// SyncConfig holds the scheduler settings.
type SyncConfig struct {
	MailCheckInterval int `yaml:"mail_check_interval"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Config struct {
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      logging.Config `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// Load reads the configuration file. An explicit path takes precedence;
// otherwise a small list of conventional locations is tried in order.
func Load(explicit string) (*Config, error) {
	configPaths := []string{
		"/etc/mailroom/mailroom.yaml",
		"./mailroom.yaml",
		"config/mailroom.yaml",
	}
	if explicit != "" {
		configPaths = []string{explicit}
	}

	var data []byte
	var err error
	for _, path := range configPaths {
		data, err = os.ReadFile(filepath.Clean(path))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a config pre-filled with the documented default values.
func defaults() *Config {
	return &Config{
		Mailbox: MailboxConfig{
			IMAPPort: 993,
			SMTPPort: 465,
			Folder:   "INBOX",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 3306,
		},
		Sync: SyncConfig{
			MailCheckInterval: 300,
		},
		Log: logging.Config{
			Level: "INFO",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
	}
}

// Validate checks the required fields. The service refuses to start on a
// validation failure.
func (c *Config) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("configuration error: %s is required", field)
	}

	switch {
	case c.Mailbox.Username == "":
		return missing("mailbox.username")
	case c.Mailbox.Password == "":
		return missing("mailbox.password")
	case c.Mailbox.IMAPHost == "":
		return missing("mailbox.imap_host")
	case c.Mailbox.SMTPHost == "":
		return missing("mailbox.smtp_host")
	case c.Database.User == "":
		return missing("database.user")
	case c.Database.Password == "":
		return missing("database.password")
	case c.Database.Name == "":
		return missing("database.name")
	case c.Storage.AttachmentPath == "":
		return missing("storage.attachment_path")
	}

	if c.Sync.MailCheckInterval <= 0 {
		return fmt.Errorf("configuration error: sync.mail_check_interval must be positive")
	}

	return nil
}
