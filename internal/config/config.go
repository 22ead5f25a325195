// Package config loads and validates the backup.env configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/borgsave/borgsave/internal/types"
	"github.com/borgsave/borgsave/pkg/utils"
)

var multiValueKeys = map[string]bool{
	"BACKUP_DIRECTORIES": true,
	"ZFS_POOLS":          true,
	"EMAIL_RECIPIENTS":   true,
}

// Config holds the full configuration for one backup run.
type Config struct {
	// General settings
	DebugLevel types.LogLevel
	UseColor   bool
	DryRun     bool

	// NamePrefix names archives and snapshots: <prefix>-<runTimestamp>
	NamePrefix string

	// Paths
	WorkspacePath string
	LockPath      string
	LogPath       string
	ConfigPath    string

	// Log retention: newest N run logs survive, 0 = keep all
	LogKeepFiles int

	// Backup targets
	Directories []string
	Pools       []string

	// Borg repositories (indexed REPOSITORY_<n>_* blocks)
	Repositories []types.RepositoryTarget

	// Retention policy applied to every repository
	Retention types.RetentionPolicy

	// CheckVerifyData extends borg check with --verify-data
	CheckVerifyData bool

	// MasterKeyFile holds the master passphrase used to unseal
	// age-encrypted repository passphrase files
	MasterKeyFile string

	// Email notifications
	EmailEnabled        bool
	EmailErrorOnly      bool
	EmailDeliveryMethod string // "smtp" or "sendmail"
	EmailFrom           string
	EmailFromName       string
	EmailRecipients     []string
	SMTPHost            string
	SMTPPort            int
	SMTPUseTLS          bool
	SMTPUsername        string
	SMTPPassword        string

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	// raw configuration map
	raw map[string]string
}

// LoadConfig reads the backup.env configuration file.
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	rawValues, err := parseEnvFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	// Environment variables take precedence over file values
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides checks for environment variables and overrides config file values.
func (c *Config) loadEnvOverrides() {
	envKeys := []string{
		"DEBUG_LEVEL", "USE_COLOR", "DRY_RUN",
		"BACKUP_NAME_PREFIX", "WORKSPACE_PATH", "LOCK_PATH", "LOG_DIR", "LOG_KEEP_FILES",
		"BACKUP_DIRECTORIES", "ZFS_POOLS",
		"PRUNE_KEEP_DAILY", "PRUNE_KEEP_WEEKLY", "PRUNE_KEEP_MONTHLY", "PRUNE_KEEP_YEARLY",
		"ENABLE_COMPACT", "CHECK_VERIFY_DATA",
		"MASTER_KEY_FILE",
		"EMAIL_ENABLED", "EMAIL_ERROR_ONLY", "EMAIL_DELIVERY_METHOD",
		"EMAIL_FROM", "EMAIL_FROM_NAME", "EMAIL_RECIPIENTS",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USE_TLS", "SMTP_USERNAME", "SMTP_PASSWORD",
		"METRICS_ENABLED", "METRICS_PATH",
	}

	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

// parse interprets the raw configuration values.
func (c *Config) parse() error {
	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)
	c.DryRun = c.getBool("DRY_RUN", false)

	c.NamePrefix = strings.TrimSpace(c.getString("BACKUP_NAME_PREFIX", "linux-backup"))
	if c.NamePrefix == "" {
		return fmt.Errorf("BACKUP_NAME_PREFIX cannot be blank")
	}

	c.WorkspacePath = c.getString("WORKSPACE_PATH", "/tmp/borgsave")
	c.LockPath = c.getString("LOCK_PATH", filepath.Join(c.WorkspacePath, ".lock"))
	c.LogPath = c.getString("LOG_DIR", "/var/log/borgsave")
	c.LogKeepFiles = c.getInt("LOG_KEEP_FILES", 5)
	if c.LogKeepFiles < 0 {
		c.LogKeepFiles = 0
	}

	c.Directories = c.getStringSlice("BACKUP_DIRECTORIES", nil)
	c.Pools = c.getStringSlice("ZFS_POOLS", nil)

	var err error
	if c.Repositories, err = c.parseRepositories(); err != nil {
		return err
	}

	c.Retention = types.RetentionPolicy{
		KeepDaily:      c.getInt("PRUNE_KEEP_DAILY", 7),
		KeepWeekly:     c.getInt("PRUNE_KEEP_WEEKLY", 4),
		KeepMonthly:    c.getInt("PRUNE_KEEP_MONTHLY", 6),
		KeepYearly:     c.getInt("PRUNE_KEEP_YEARLY", 2),
		CompactEnabled: c.getBool("ENABLE_COMPACT", true),
	}
	if c.Retention.KeepDaily < 0 || c.Retention.KeepWeekly < 0 ||
		c.Retention.KeepMonthly < 0 || c.Retention.KeepYearly < 0 {
		return fmt.Errorf("retention keep counts must be non-negative")
	}

	c.CheckVerifyData = c.getBool("CHECK_VERIFY_DATA", true)

	c.MasterKeyFile = strings.TrimSpace(c.getString("MASTER_KEY_FILE", ""))

	c.EmailEnabled = c.getBool("EMAIL_ENABLED", true)
	c.EmailErrorOnly = c.getBool("EMAIL_ERROR_ONLY", false)
	// sendmail needs no further settings, so it is the safe default;
	// smtp requires at least SMTP_HOST.
	method := strings.ToLower(strings.TrimSpace(c.getString("EMAIL_DELIVERY_METHOD", "sendmail")))
	switch method {
	case "smtp", "sendmail":
		c.EmailDeliveryMethod = method
	default:
		return fmt.Errorf("invalid EMAIL_DELIVERY_METHOD: %s (must be 'smtp' or 'sendmail')", method)
	}
	c.EmailFrom = c.getString("EMAIL_FROM", "")
	c.EmailFromName = c.getString("EMAIL_FROM_NAME", "Backup Script")
	c.EmailRecipients = c.getStringSlice("EMAIL_RECIPIENTS", nil)
	c.SMTPHost = c.getString("SMTP_HOST", "")
	c.SMTPPort = c.getInt("SMTP_PORT", 587)
	c.SMTPUseTLS = c.getBool("SMTP_USE_TLS", true)
	c.SMTPUsername = c.getString("SMTP_USERNAME", "")
	c.SMTPPassword = c.getString("SMTP_PASSWORD", "")

	if c.EmailEnabled && c.EmailDeliveryMethod == "smtp" && c.SMTPHost == "" {
		return fmt.Errorf("EMAIL_ENABLED with EMAIL_DELIVERY_METHOD=smtp requires SMTP_HOST")
	}

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = strings.TrimSpace(c.getString("METRICS_PATH", "/var/lib/prometheus/node-exporter"))

	return nil
}

// validEncryptionModes are the repository encryption modes borg accepts at
// init time. Every mode except "none" protects the repository with a key
// that needs a passphrase at run time.
var validEncryptionModes = map[string]bool{
	"none":                 true,
	"authenticated":        true,
	"authenticated-blake2": true,
	"repokey":              true,
	"keyfile":              true,
	"repokey-blake2":       true,
	"keyfile-blake2":       true,
}

// parseRepositories reads the indexed REPOSITORY_<n>_* blocks, starting at 1.
// Numbering must be contiguous; the first missing URL ends the list.
func (c *Config) parseRepositories() ([]types.RepositoryTarget, error) {
	var repos []types.RepositoryTarget
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("REPOSITORY_%d_", n)
		url := strings.TrimSpace(c.getString(prefix+"URL", ""))
		if url == "" {
			break
		}

		repo := types.RepositoryTarget{
			URL:            url,
			EncryptionMode: c.getString(prefix+"ENCRYPTION", "repokey"),
			Passphrase:     c.getString(prefix+"PASSPHRASE", ""),
			SSHKeyPath:     strings.TrimSpace(c.getString(prefix+"SSH_KEY", "")),
		}

		// A passphrase file takes precedence over an inline passphrase.
		// Files with an .age extension are unsealed later using MASTER_KEY_FILE.
		if file := strings.TrimSpace(c.getString(prefix+"PASSPHRASE_FILE", "")); file != "" {
			repo.Passphrase = ""
			repo.PassphraseFile = file
		}

		if !validEncryptionModes[repo.EncryptionMode] {
			return nil, fmt.Errorf("%sENCRYPTION: unknown mode %q", prefix, repo.EncryptionMode)
		}
		if repo.EncryptionMode != "none" && repo.Passphrase == "" && repo.PassphraseFile == "" {
			return nil, fmt.Errorf("%sURL uses encryption %s but no passphrase is configured",
				prefix, repo.EncryptionMode)
		}

		if repo.SSHKeyPath != "" && !utils.FileExists(repo.SSHKeyPath) {
			return nil, fmt.Errorf("%sSSH_KEY does not exist: %s", prefix, repo.SSHKeyPath)
		}

		repos = append(repos, repo)
	}
	return repos, nil
}

func (c *Config) getString(key, defaultValue string) string {
	if value, ok := c.raw[key]; ok {
		return utils.TrimQuotes(value)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if value, ok := c.raw[key]; ok {
		return utils.ParseBool(value)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if value, ok := c.raw[key]; ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	value, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "warn", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return defaultValue
	}
}

// getStringSlice splits a multi-line or comma-separated value into entries.
func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	value, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == '\n' || r == ','
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		f = utils.TrimQuotes(strings.TrimSpace(f))
		if f != "" {
			result = append(result, f)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// parseEnvFile reads a KEY=VALUE file, accumulating repeated multi-value keys.
func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if utils.IsComment(strings.TrimSpace(line)) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
