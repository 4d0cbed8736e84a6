// Package config loads register settings.
//
// Sources are layered, later ones winning: built-in defaults, the YAML file,
// a .env file, then CASHIER_* variables from the process environment. The
// merged result is checked against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cashier/internal/currency"
	"github.com/roach88/cashier/internal/outbox"
	"github.com/roach88/cashier/internal/remote"
)

//go:embed schema.cue
var schemaSource string

// Duration is a time.Duration written as "30s" in YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Operator identifies the cashier when no persisted session exists.
type Operator struct {
	CashierID string `yaml:"cashierId" json:"cashierId"`
	BranchID  string `yaml:"branchId" json:"branchId"`
	CompanyID string `yaml:"companyId" json:"companyId"`
}

// BackOffice configures the remote client and the local back office server.
type BackOffice struct {
	// URL of the back office. Empty runs the register offline only.
	URL              string   `yaml:"url" json:"url"`
	Listen           string   `yaml:"listen" json:"listen"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	ProbeTimeout     Duration `yaml:"probeTimeout" json:"probeTimeout"`
	OpenTimeout      Duration `yaml:"openTimeout" json:"openTimeout"`
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
}

// Sync configures the outbox drain loop.
type Sync struct {
	Interval   Duration `yaml:"interval" json:"interval"`
	RetryBase  Duration `yaml:"retryBase" json:"retryBase"`
	MaxBackoff Duration `yaml:"maxBackoff" json:"maxBackoff"`
	LeaseTTL   Duration `yaml:"leaseTTL" json:"leaseTTL"`
}

// Config is the complete register configuration.
type Config struct {
	DB           string     `yaml:"db" json:"db"`
	BaseCurrency string     `yaml:"baseCurrency" json:"baseCurrency"`
	Currency     string     `yaml:"currency" json:"currency"`
	Operator     Operator   `yaml:"operator" json:"operator"`
	BackOffice   BackOffice `yaml:"backoffice" json:"backoffice"`
	Sync         Sync       `yaml:"sync" json:"sync"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:           "cashier.db",
		BaseCurrency: "USD",
		Currency:     "USD",
		BackOffice: BackOffice{
			Listen:           ":8080",
			Timeout:          Duration(remote.DefaultTimeout),
			ProbeTimeout:     Duration(remote.DefaultProbeTimeout),
			OpenTimeout:      Duration(remote.DefaultOpenTimeout),
			FailureThreshold: remote.DefaultFailureThreshold,
		},
		Sync: Sync{
			Interval:   Duration(outbox.DefaultInterval),
			RetryBase:  Duration(outbox.DefaultRetryBase),
			MaxBackoff: Duration(outbox.DefaultMaxBackoff),
			LeaseTTL:   Duration(outbox.DefaultLeaseTTL),
		},
	}
}

// LoadOptions locate the configuration sources.
type LoadOptions struct {
	// Path of the YAML file. Empty skips the file.
	Path string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
	// Getenv reads the process environment. Defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		if err := readFile(opts.Path, &cfg); err != nil {
			return Config{}, err
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", opts.EnvFile, err)
		}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	cfg.BaseCurrency = strings.ToUpper(strings.TrimSpace(cfg.BaseCurrency))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) string) error {
	strs := map[string]*string{
		"CASHIER_DB":                &cfg.DB,
		"CASHIER_BASE_CURRENCY":     &cfg.BaseCurrency,
		"CASHIER_CURRENCY":          &cfg.Currency,
		"CASHIER_CASHIER_ID":        &cfg.Operator.CashierID,
		"CASHIER_BRANCH_ID":         &cfg.Operator.BranchID,
		"CASHIER_COMPANY_ID":        &cfg.Operator.CompanyID,
		"CASHIER_BACKOFFICE_URL":    &cfg.BackOffice.URL,
		"CASHIER_BACKOFFICE_LISTEN": &cfg.BackOffice.Listen,
	}
	for key, dst := range strs {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"CASHIER_BACKOFFICE_TIMEOUT": &cfg.BackOffice.Timeout,
		"CASHIER_SYNC_INTERVAL":      &cfg.Sync.Interval,
	}
	for key, dst := range durations {
		v := lookup(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
	}

	if v := lookup("CASHIER_BACKOFFICE_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASHIER_BACKOFFICE_FAILURE_THRESHOLD: %w", err)
		}
		cfg.BackOffice.FailureThreshold = n
	}
	return nil
}

// Validate checks c against the schema and the ISO 4217 currency list.
func (c Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	doc := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := currency.ValidateCode(c.BaseCurrency); err != nil {
		return fmt.Errorf("invalid config: baseCurrency: %w", err)
	}
	if _, err := currency.ValidateCode(c.Currency); err != nil {
		return fmt.Errorf("invalid config: currency: %w", err)
	}
	return nil
}
