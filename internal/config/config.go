package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode controls failure handling and side-effect behaviour of the whole
// process.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
	ModeTesting     Mode = "testing"
	ModeDryRun      Mode = "dry_run"
)

// Marking selects the durable "already answered" marker strategy for a
// persona's mailbox.
type Marking string

const (
	// MarkFlag adds the custom $Mailai keyword to answered messages.
	MarkFlag Marking = "flag"
	// MarkSeen relies on the \Seen flag set while fetching.
	MarkSeen Marking = "seen"
)

// AIConfig holds the provider selection and its free-form parameters for one
// persona.
type AIConfig struct {
	Provider string
	// Params carries provider-specific settings (api_key, model, ...) taken
	// verbatim from MAILAI_<id>_<provider>_* keys.
	Params map[string]string
	// UnavailableMessage is the canned reply used by the unavailable
	// provider.
	UnavailableMessage string
}

// Persona is one managed mailbox identity. Immutable after load; a config
// change restarts the process instead of mutating live personas.
type Persona struct {
	ID            string
	EmailUser     string
	EmailPassword string
	EmailIMAP     string
	EmailPort     int
	EmailSMTP     string
	EmailSMTPPort int
	Marking       Marking
	Prompt        string
	AI            AIConfig
}

// Config holds all configuration for the application.
type Config struct {
	Mode              Mode
	MonitorPort       int
	BatchSize         int
	MaxEmailsPerBatch int
	CooldownPeriod    time.Duration
	MaxEmailsPerDay   int
	MinDays           int
	MaxDays           int
	// SweepIntervalMinutes schedules the periodic full poll that backstops
	// IMAP IDLE notifications.
	SweepIntervalMinutes int
	BCCEmails            []string
	MonitorUser          string
	MonitorPass          string
	// StateFile is the env-style file counters are persisted into. Defaults
	// to the config file itself, matching the self-rewriting layout the
	// service grew up with.
	StateFile string
	// DBDSN enables the MySQL-backed response audit log when set.
	DBDSN    string
	Personas map[string]*Persona
}

const envPrefix = "mailai_"

// Load reads the env-style config file plus the process environment and
// builds the application configuration. The process environment wins over
// the file.
func Load(path string) (*Config, error) {
	settings, err := readSettings(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode:                 Mode(strings.ToLower(getStr(settings, "mailai_mode", string(ModeDevelopment)))),
		MonitorPort:          getInt(settings, "mailai_port", 8080),
		BatchSize:            getInt(settings, "mailai_batch_size", 10),
		MaxEmailsPerBatch:    getInt(settings, "mailai_max_emails_per_batch", 50),
		CooldownPeriod:       time.Duration(getInt(settings, "mailai_cooldown_period", 5)) * time.Minute,
		MaxEmailsPerDay:      getInt(settings, "mailai_max_emails_per_day", 10),
		MinDays:              getInt(settings, "mailai_min_days", 0),
		MaxDays:              getInt(settings, "mailai_max_days", 7),
		SweepIntervalMinutes: getInt(settings, "mailai_sweep_interval_minutes", 5),
		MonitorUser:          getStr(settings, "mailai_monitor_user", ""),
		MonitorPass:          getStr(settings, "mailai_monitor_pass", ""),
		StateFile:            getStr(settings, "mailai_state_file", path),
		DBDSN:                getStr(settings, "mailai_db_dsn", ""),
		Personas:             make(map[string]*Persona),
	}

	if bcc := getStr(settings, "mailai_bcc_emails", ""); bcc != "" {
		for _, addr := range strings.Split(bcc, ",") {
			cfg.BCCEmails = append(cfg.BCCEmails, strings.TrimSpace(addr))
		}
	}

	for key := range settings {
		if !strings.HasPrefix(key, envPrefix+"persona_") {
			continue
		}
		id := strings.TrimPrefix(key, envPrefix+"persona_")
		persona, err := loadPersona(id, settings)
		if err != nil {
			return nil, err
		}
		cfg.Personas[id] = persona
	}

	return cfg, nil
}

// readSettings merges the config file (if present) with MAILAI_* keys from
// the process environment into a single lower-cased key map.
func readSettings(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, everything can come from the environment.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	settings := make(map[string]string)
	for _, key := range v.AllKeys() {
		settings[strings.ToLower(key)] = v.GetString(key)
	}
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(parts[0]), envPrefix) {
			settings[strings.ToLower(parts[0])] = parts[1]
		}
	}
	return settings, nil
}

// loadPersona collects all MAILAI_<id>_* keys for one persona.
func loadPersona(id string, settings map[string]string) (*Persona, error) {
	prefix := envPrefix + id + "_"

	persona := &Persona{
		ID:            id,
		EmailPort:     993,
		EmailSMTPPort: 465,
		Marking:       MarkFlag,
		AI: AIConfig{
			Provider: "unavailable",
			Params:   make(map[string]string),
		},
	}

	if provider := settings[prefix+"ai"]; provider != "" {
		if provider != strings.ToLower(provider) {
			return nil, fmt.Errorf("AI provider name %q must be lowercase in %sai", provider, prefix)
		}
		persona.AI.Provider = provider
	}
	providerPrefix := prefix + persona.AI.Provider + "_"

	for key, value := range settings {
		switch {
		case strings.HasPrefix(key, providerPrefix):
			persona.AI.Params[strings.TrimPrefix(key, providerPrefix)] = value
		case strings.HasPrefix(key, prefix):
			param := strings.TrimPrefix(key, prefix)
			switch param {
			case "email_user":
				persona.EmailUser = value
			case "email_password":
				// App passwords are often pasted with spaces.
				persona.EmailPassword = strings.ReplaceAll(value, " ", "")
			case "email_imap":
				persona.EmailIMAP = value
			case "email_smtp":
				persona.EmailSMTP = value
			case "email_port":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid %semail_port value %q", prefix, value)
				}
				persona.EmailPort = n
			case "email_smtp_port":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid %semail_smtp_port value %q", prefix, value)
				}
				persona.EmailSMTPPort = n
			case "marking":
				persona.Marking = Marking(strings.ToLower(value))
			case "prompt":
				persona.Prompt = value
			case "unavailable_message":
				persona.AI.UnavailableMessage = value
			}
		}
	}

	if persona.EmailSMTP == "" {
		persona.EmailSMTP = persona.EmailIMAP
	}
	if persona.AI.Provider == "unavailable" && persona.AI.UnavailableMessage == "" {
		persona.AI.UnavailableMessage = "Service unavailable"
	}

	return persona, nil
}

// Validate checks the configuration for fatal startup errors.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction, ModeTesting, ModeDryRun:
	default:
		return fmt.Errorf("invalid mode %q, must be one of: development, production, testing, dry_run", c.Mode)
	}

	if c.MonitorPort <= 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("invalid monitor port %d", c.MonitorPort)
	}
	if c.BatchSize <= 0 || c.MaxEmailsPerBatch <= 0 {
		return fmt.Errorf("batch sizes must be greater than 0")
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown period cannot be negative")
	}
	if c.MaxEmailsPerDay <= 0 {
		return fmt.Errorf("max emails per day must be greater than 0")
	}
	if c.MinDays < 0 || c.MaxDays < 0 {
		return fmt.Errorf("min days and max days must be positive integers")
	}
	if c.MinDays > c.MaxDays {
		return fmt.Errorf("min days cannot exceed max days")
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}

	if len(c.Personas) == 0 {
		return fmt.Errorf("no personas found in configuration")
	}
	for id, persona := range c.Personas {
		if err := persona.Validate(); err != nil {
			return fmt.Errorf("persona %q: %w", id, err)
		}
	}
	return nil
}

// Validate checks a single persona for required fields.
func (p *Persona) Validate() error {
	var missing []string
	if p.EmailUser == "" {
		missing = append(missing, "email_user")
	}
	if p.EmailPassword == "" {
		missing = append(missing, "email_password")
	}
	if p.EmailIMAP == "" {
		missing = append(missing, "email_imap")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required email fields: %s (example: MAILAI_%s_%s=value)",
			strings.Join(missing, ", "), strings.ToUpper(p.ID), missing[0])
	}
	if p.Marking != MarkFlag && p.Marking != MarkSeen {
		return fmt.Errorf("invalid marking strategy %q, must be flag or seen", p.Marking)
	}
	if p.AI.Provider == "" {
		return fmt.Errorf("missing AI provider")
	}
	return nil
}

// ManagedAddresses returns every mailbox address this process answers for.
// Used by the rate limiter's loop-prevention check.
func (c *Config) ManagedAddresses() []string {
	addrs := make([]string, 0, len(c.Personas))
	for _, p := range c.Personas {
		addrs = append(addrs, p.EmailUser)
	}
	return addrs
}

func getStr(settings map[string]string, key, def string) string {
	if v, ok := settings[key]; ok && v != "" {
		return v
	}
	return def
}

func getInt(settings map[string]string, key string, def int) int {
	if v, ok := settings[key]; ok && v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
