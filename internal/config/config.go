// Package config loads the worker's CLI flags, JSON/env configuration, and
// derives the worker identity string spec.md §3 defines.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mode mirrors store.Mode but lives in config so the CLI/identity layer
// doesn't need to import the store package.
type Mode string

const (
	ModeAll          Mode = ""
	ModeReport       Mode = "report"
	ModeNotification Mode = "notification"
)

// parseMode accepts "report"/"reports"/"notification"/"notifications"; a
// trailing "s" is tolerated and stripped per spec §6.
func parseMode(raw string) (Mode, error) {
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "s")
	switch trimmed {
	case "":
		return ModeAll, nil
	case "report":
		return ModeReport, nil
	case "notification":
		return ModeNotification, nil
	default:
		return "", fmt.Errorf("config: invalid mode %q", raw)
	}
}

// DBParams is the shape of $HOME/scripts/db_params.json.
type DBParams struct {
	Host   string `json:"host" mapstructure:"host"`
	Port   int    `json:"port" mapstructure:"port"`
	User   string `json:"user" mapstructure:"user"`
	DBName string `json:"dbname" mapstructure:"dbname"`
}

// Config is the fully resolved set of knobs the rest of the program needs,
// assembled from CLI flags (spec §6 table), db_params.json, and environment
// variables.
type Config struct {
	Mode          Mode
	Loop          bool
	Debug         bool
	Testing       bool
	NoNotify      bool
	EmailOverride string
	PhoneOverride string
	JobID         string
	Interval      time.Duration
	LogDir        string

	Hostname string

	DB         DBParams
	DBPassword string

	SMSBaseURL      string
	SMSAccountSID   string
	SMSAPIKeySID    string
	SMSAPIKeySecret string
	SMSFromNumber   string

	EmailEndpoint    string
	EmailAPIKey      string
	EmailFromAddress string

	MaxAttempts int
	MaxAge      time.Duration
	FetchLimit  int
}

// magicTwilioTestNumber is the well-known override spec §4.3 refers to as
// "the SMS provider's magic test number".
const magicTwilioTestNumber = "+15005550006"

// Flags holds the pflag.FlagSet plus the raw pre-parse values, so
// internal/singleton can re-derive a peer's (mode, job-id) pair from its
// argv using the exact same flag definitions as this process.
type Flags struct {
	FlagSet *pflag.FlagSet

	mode     string
	loop     bool
	debug    bool
	testing  bool
	noNotify bool
	email    string
	phone    string
	jobID    string
	interval float64
	logDir   string
	help     bool
}

// NewFlagSet declares the CLI surface from spec.md §6. cmd/worker uses it
// both to parse os.Args and, in argvIdentity, to parse a peer's argv for
// internal/singleton.
func NewFlagSet(name string) *Flags {
	f := &Flags{FlagSet: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.FlagSet.StringVarP(&f.mode, "mode", "m", "", "report or notification (trailing s tolerated)")
	f.FlagSet.BoolVarP(&f.loop, "loop", "l", false, "run continuously with polling")
	f.FlagSet.BoolVarP(&f.debug, "debug", "d", false, "verbose logging including SQL and payloads")
	f.FlagSet.BoolVarP(&f.testing, "testing", "t", false, "dry-run: roll back DB writes")
	f.FlagSet.BoolVarP(&f.noNotify, "no-notify", "n", false, "never call providers")
	f.FlagSet.StringVarP(&f.email, "email", "e", "", "override destination for email rows")
	f.FlagSet.StringVarP(&f.phone, "phone", "p", "", `override destination for SMS rows ("twilio" for the magic test number)`)
	f.FlagSet.StringVarP(&f.jobID, "job-id", "j", "", "suffix of the worker identifier")
	f.FlagSet.Float64VarP(&f.interval, "interval", "i", 1.0, "base polling interval in seconds")
	f.FlagSet.StringVarP(&f.logDir, "log-dir", "L", "", "log destination (default: <exe dir>/logs)")
	f.FlagSet.BoolVarP(&f.help, "help", "h", false, "print usage and exit")
	return f
}

// Mode parses the --mode flag's raw value.
func (f *Flags) Mode() (Mode, error) { return parseMode(f.mode) }

// JobID returns the --job-id flag's raw value.
func (f *Flags) JobID() string { return f.jobID }

// Help reports whether -h/--help was passed.
func (f *Flags) Help() bool { return f.help }

// Load parses argv and env/JSON config into a Config. argv excludes the
// program name (os.Args[1:]).
func Load(argv []string, flags *Flags) (*Config, error) {
	if err := flags.FlagSet.Parse(argv); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if flags.help {
		fmt.Fprintln(os.Stdout, flags.FlagSet.FlagUsages())
		os.Exit(0)
	}

	mode, err := flags.Mode()
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("config: hostname: %w", err)
	}

	logDir := flags.logDir
	if logDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("config: executable path: %w", err)
		}
		logDir = filepath.Join(filepath.Dir(exe), "logs")
	}

	v := viper.New()
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: home dir: %w", err)
	}
	v.SetConfigFile(filepath.Join(home, "scripts", "db_params.json"))
	v.SetConfigType("json")
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.SetDefault("fetch_limit", 5*runtime.NumCPU())
	v.SetDefault("max_attempts", 3)
	v.SetDefault("max_age_minutes", 15)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read db_params.json: %w", err)
	}

	var dbParams DBParams
	if err := v.Unmarshal(&dbParams); err != nil {
		return nil, fmt.Errorf("config: parse db_params.json: %w", err)
	}
	if dbParams.Host == "" || dbParams.User == "" || dbParams.DBName == "" {
		return nil, fmt.Errorf("config: db_params.json missing host/user/dbname")
	}

	dbPassword := os.Getenv("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("config: DB_PASSWORD not set")
	}

	smsFrom := os.Getenv("SMS_FROM_NUMBER")
	phoneOverride := flags.phone
	if phoneOverride == "twilio" {
		phoneOverride = magicTwilioTestNumber
	}

	cfg := &Config{
		Mode:          mode,
		Loop:          flags.loop,
		Debug:         flags.debug,
		Testing:       flags.testing,
		NoNotify:      flags.noNotify,
		EmailOverride: flags.email,
		PhoneOverride: phoneOverride,
		JobID:         flags.jobID,
		Interval:      time.Duration(flags.interval * float64(time.Second)),
		LogDir:        logDir,
		Hostname:      hostname,

		DB:         dbParams,
		DBPassword: dbPassword,

		SMSBaseURL:      os.Getenv("SMS_BASE_URL"),
		SMSAccountSID:   os.Getenv("SMS_ACCOUNT_SID"),
		SMSAPIKeySID:    os.Getenv("SMS_API_KEY_SID"),
		SMSAPIKeySecret: os.Getenv("SMS_API_KEY_SECRET"),
		SMSFromNumber:   smsFrom,

		EmailEndpoint:    os.Getenv("EMAIL_PROVIDER_ENDPOINT"),
		EmailAPIKey:      os.Getenv("EMAIL_PROVIDER_API_KEY"),
		EmailFromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),

		MaxAttempts: v.GetInt("max_attempts"),
		MaxAge:      time.Duration(v.GetInt("max_age_minutes")) * time.Minute,
		FetchLimit:  v.GetInt("fetch_limit"),
	}

	if cfg.SMSBaseURL == "" || cfg.EmailEndpoint == "" {
		return nil, fmt.Errorf("config: SMS_BASE_URL and EMAIL_PROVIDER_ENDPOINT must be set")
	}

	return cfg, nil
}

// DSN builds the lib/pq connection string from the loaded config.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=require",
		c.DB.Host, c.DB.Port, c.DB.User, c.DBPassword, c.DB.DBName)
}

// Identity constructs the worker identifier spec.md §3 defines:
// {hostname}[-{mode}][-{job_id}], lowercased as a whole string.
func Identity(hostname string, mode Mode, jobID string) string {
	id := hostname
	if mode != ModeAll {
		id += "-" + string(mode)
	}
	if jobID != "" {
		id += "-" + jobID
	}
	return strings.ToLower(id)
}

// Identity returns this config's worker identifier.
func (c *Config) Identity() string {
	return Identity(c.Hostname, c.Mode, c.JobID)
}
