package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	envPrefix      = "MAILER"
	configName     = "automailer"
	defaultSubject = "Candidature pour un stage de fin d’études - Ingénierie de Développement d’Applications"
)

// Config is the full set of tunables for one run.
type Config struct {
	ContactsFile   string
	Subject        string
	AttachmentsDir string
	Templates      TemplatesConfig

	Workers    int
	Pause      time.Duration
	Retries    int
	RetryDelay time.Duration

	Transport string
	Sender    SenderConfig
	SMTP      SMTPConfig
	SES       SESConfig
	SpoolDir  string
	DKIM      DKIMConfig

	MetricsAddr string
	LogLevel    string
	Audit       bool
}

// TemplatesConfig locates the per-locale message bodies.
type TemplatesConfig struct {
	Dir           string
	Pattern       string
	Locales       []string
	DefaultLocale string
	Placeholder   string
}

// SenderConfig is the mailbox messages are sent from.
type SenderConfig struct {
	Address  string
	Password string
	Name     string
}

// SMTPConfig describes the submission relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Timeout            time.Duration
	HeloName           string
	RequireTLS         bool
	CAFile             string
	InsecureSkipVerify bool
}

// ImplicitTLS reports whether the relay expects TLS from the first byte.
func (c SMTPConfig) ImplicitTLS() bool {
	return c.Port == 465
}

// SESConfig selects the AWS region for the SES transport.
type SESConfig struct {
	Region string
}

// DKIMConfig enables message signing when a selector and key are set.
type DKIMConfig struct {
	Domain     string
	Selector   string
	KeyPath    string
	PrivateKey string
}

type flagSpec struct {
	key   string
	name  string
	usage string
	def   any
}

var flagSpecs = []flagSpec{
	{"contacts", "contacts", "CSV file with one contact per row", "docs/contacts.csv"},
	{"subject", "subject", "subject line of every message", defaultSubject},
	{"attachments.dir", "attachments-dir", "directory whose visible files are attached to every message", "attachments"},
	{"templates.dir", "templates-dir", "directory holding one template per locale", "docs"},
	{"templates.pattern", "template-pattern", "template file name pattern, %s is the locale code", "email_%s.txt"},
	{"templates.locales", "locales", "locale codes to load templates for", []string{"EN", "ES", "FR"}},
	{"templates.default_locale", "default-locale", "locale used when a contact has none or an unknown one", "FR"},
	{"templates.placeholder", "placeholder", "token replaced by the contact name", "[NAME]"},
	{"dispatch.workers", "workers", "number of concurrent preparation workers", 5},
	{"dispatch.pause", "pause", "pause after every transmission", 30 * time.Second},
	{"retry.count", "retries", "additional attempts after a failed transmission", 1},
	{"retry.delay", "retry-delay", "fixed delay between attempts", 2 * time.Second},
	{"transport", "transport", "delivery transport: smtp, ses or spool", TransportSMTP},
	{"sender.name", "from-name", "display name of the sender", ""},
	{"smtp.host", "smtp-host", "SMTP submission host", "smtp.gmail.com"},
	{"smtp.port", "smtp-port", "SMTP submission port (465 uses implicit TLS)", 587},
	{"smtp.timeout", "timeout", "SMTP dial and session timeout", 30 * time.Second},
	{"smtp.helo_name", "helo-name", "name announced in EHLO", ""},
	{"smtp.require_tls", "require-tls", "refuse relays that do not offer STARTTLS", true},
	{"smtp.ca_file", "smtp-ca-file", "PEM bundle used to verify the relay", ""},
	{"smtp.insecure_skip_verify", "smtp-insecure", "skip relay certificate verification", false},
	{"ses.region", "ses-region", "AWS region for the ses transport", ""},
	{"spool.dir", "spool-dir", "directory for the spool transport", "./data/spool"},
	{"dkim.domain", "dkim-domain", "DKIM signing domain (defaults to the sender domain)", ""},
	{"dkim.selector", "dkim-selector", "DKIM selector", ""},
	{"dkim.key_path", "dkim-key", "path to the DKIM private key", ""},
	{"metrics.addr", "metrics-addr", "serve /healthz and /metrics on this address during the run", ""},
	{"log.level", "log-level", "log level: debug, info, warn, error", "info"},
	{"audit", "audit", "log a line for every prepared contact and delivery attempt", false},
	{"dry_run", "dry-run", "write messages to the spool directory instead of sending", false},
}

// RegisterFlags defines a flag for every tunable, plus --config and --env-file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default is ./automailer.yaml when present)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	for _, spec := range flagSpecs {
		switch def := spec.def.(type) {
		case string:
			fs.String(spec.name, def, spec.usage)
		case int:
			fs.Int(spec.name, def, spec.usage)
		case bool:
			fs.Bool(spec.name, def, spec.usage)
		case time.Duration:
			fs.Duration(spec.name, def, spec.usage)
		case []string:
			fs.StringSlice(spec.name, def, spec.usage)
		}
	}
}

// New loads the dotenv file and returns a viper instance layering, from
// highest to lowest priority: changed flags, environment (MAILER_ prefix, plus
// EMAIL_ADDRESS and EMAIL_PASSWORD), config file, defaults. fs may be nil.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	envFile := ".env"
	cfgFile := ""
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := fs.Lookup("config"); f != nil {
			cfgFile = f.Value.String()
		}
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	for _, spec := range flagSpecs {
		v.SetDefault(spec.key, spec.def)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("sender.address", "EMAIL_ADDRESS", envPrefix+"_SENDER_ADDRESS"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("sender.password", "EMAIL_PASSWORD", envPrefix+"_SENDER_PASSWORD"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("dkim.private_key", envPrefix+"_DKIM_PRIVATE_KEY"); err != nil {
		return nil, err
	}

	if fs != nil {
		for _, spec := range flagSpecs {
			if f := fs.Lookup(spec.name); f != nil {
				if err := v.BindPFlag(spec.key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return v, nil
	}
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ContactsFile:   v.GetString("contacts"),
		Subject:        v.GetString("subject"),
		AttachmentsDir: v.GetString("attachments.dir"),
		Templates: TemplatesConfig{
			Dir:           v.GetString("templates.dir"),
			Pattern:       v.GetString("templates.pattern"),
			Locales:       splitList(v.GetStringSlice("templates.locales")),
			DefaultLocale: strings.TrimSpace(v.GetString("templates.default_locale")),
			Placeholder:   v.GetString("templates.placeholder"),
		},
		Workers:    v.GetInt("dispatch.workers"),
		Pause:      v.GetDuration("dispatch.pause"),
		Retries:    v.GetInt("retry.count"),
		RetryDelay: v.GetDuration("retry.delay"),
		Transport:  strings.ToLower(strings.TrimSpace(v.GetString("transport"))),
		Sender: SenderConfig{
			Address:  v.GetString("sender.address"),
			Password: v.GetString("sender.password"),
			Name:     v.GetString("sender.name"),
		},
		SMTP: SMTPConfig{
			Host:               v.GetString("smtp.host"),
			Port:               v.GetInt("smtp.port"),
			Timeout:            v.GetDuration("smtp.timeout"),
			HeloName:           v.GetString("smtp.helo_name"),
			RequireTLS:         v.GetBool("smtp.require_tls"),
			CAFile:             v.GetString("smtp.ca_file"),
			InsecureSkipVerify: v.GetBool("smtp.insecure_skip_verify"),
		},
		SES:      SESConfig{Region: v.GetString("ses.region")},
		SpoolDir: v.GetString("spool.dir"),
		DKIM: DKIMConfig{
			Domain:     v.GetString("dkim.domain"),
			Selector:   v.GetString("dkim.selector"),
			KeyPath:    v.GetString("dkim.key_path"),
			PrivateKey: v.GetString("dkim.private_key"),
		},
		MetricsAddr: v.GetString("metrics.addr"),
		LogLevel:    v.GetString("log.level"),
		Audit:       v.GetBool("audit"),
	}
	if cfg.SMTP.HeloName == "" {
		cfg.SMTP.HeloName = Hostname()
	}
	if v.GetBool("dry_run") {
		cfg.Transport = TransportSpool
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.ContactsFile == "" {
		errs = append(errs, errors.New("contacts file is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Pause < 0 || c.RetryDelay < 0 || c.SMTP.Timeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.Templates.DefaultLocale == "" {
		errs = append(errs, errors.New("default locale is required"))
	} else if !contains(c.Templates.Locales, c.Templates.DefaultLocale) {
		errs = append(errs, fmt.Errorf("default locale %q is not in locales %v", c.Templates.DefaultLocale, c.Templates.Locales))
	}
	if !strings.Contains(c.Templates.Pattern, "%s") {
		errs = append(errs, fmt.Errorf("template pattern %q must contain %%s", c.Templates.Pattern))
	}
	switch c.Transport {
	case TransportSMTP:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp host is required"))
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp port out of range: %d", c.SMTP.Port))
		}
	case TransportSES, TransportSpool:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// splitList flattens comma separated entries, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
