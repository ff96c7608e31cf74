package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
)

// EnvPrefix is the prefix of every environment override. SAR_DATABASE_URL
// sets database.url; a double underscore keeps a literal underscore, so
// SAR_OMEGA_MIN__CHECKS__PASS sets omega.min_checks_pass.
const EnvPrefix = "SAR_"

// DefaultFile is read when SAR_CONFIG_FILE is unset. It is optional.
const DefaultFile = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version" validate:"required"`
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Omega     OmegaConfig     `koanf:"omega"`
	Rules     RulesConfig     `koanf:"rules"`
	Archive   ArchiveConfig   `koanf:"archive"`
}

type ServerConfig struct {
	Port            int             `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration   `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration   `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
	Auth            AuthConfig      `koanf:"auth"`
}

// AuthConfig enables bearer-token auth on /v1 when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret" validate:"omitempty,min=32"`
	Issuer    string        `koanf:"issuer" validate:"required"`
	TokenTTL  time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second" validate:"gte=1"`
	BurstSize         int `koanf:"burst_size" validate:"gte=1"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns" validate:"gte=1"`
	MinConns        int32         `koanf:"min_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	ConnectAttempts uint          `koanf:"connect_attempts" validate:"gte=1"`
	ConnectDelay    time.Duration `koanf:"connect_delay"`
}

type RedisConfig struct {
	Address      string        `koanf:"address"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db" validate:"gte=0"`
	PoolSize     int           `koanf:"pool_size" validate:"gte=1"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	ClaimTTL     time.Duration `koanf:"claim_ttl" validate:"gt=0"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
}

type PipelineConfig struct {
	ServiceName         string   `koanf:"service_name" validate:"required"`
	RiskAlertThreshold  float64  `koanf:"risk_alert_threshold" validate:"gte=0,lte=1"`
	DefaultJurisdiction []string `koanf:"default_jurisdiction" validate:"min=1,dive,required"`
	Environment         string   `koanf:"environment" validate:"oneof=on-prem aws multi-cloud"`
	RBACRoles           []string `koanf:"rbac_roles" validate:"min=1,dive,required"`
	RulesVersion        string   `koanf:"rules_version" validate:"required"`
	LLMModel            string   `koanf:"llm_model" validate:"required"`
	Temperature         float64  `koanf:"temperature" validate:"gte=0,lte=2"`
	HomeCountry         string   `koanf:"home_country" validate:"len=2"`
	HighValueAmount     float64  `koanf:"high_value_amount" validate:"gt=0"`
}

type OmegaConfig struct {
	MinChecksPass      int    `koanf:"min_checks_pass" validate:"gte=1,lte=10"`
	MinNarrativeLength int    `koanf:"min_narrative_length" validate:"gte=1"`
	FilingPrefix       string `koanf:"filing_prefix" validate:"required,alphanum"`
}

// ArchiveConfig points at the S3 bucket that receives case archives. An
// empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket        string `koanf:"bucket"`
	Region        string `koanf:"region" validate:"required"`
	Endpoint      string `koanf:"endpoint"`
	Prefix        string `koanf:"prefix"`
	RetentionDays int    `koanf:"retention_days" validate:"gte=1"`
}

// RulesConfig mirrors rules.Thresholds with plain numbers for the loaders.
type RulesConfig struct {
	SingleTxnAmount           float64  `koanf:"single_txn_amount" validate:"gt=0"`
	TotalInflow               float64  `koanf:"total_inflow" validate:"gt=0"`
	VelocityCount             int      `koanf:"velocity_count" validate:"gte=1"`
	UniqueCounterparties      int      `koanf:"unique_counterparties" validate:"gte=1"`
	StructuringBandLow        float64  `koanf:"structuring_band_low" validate:"gt=0"`
	StructuringBandHigh       float64  `koanf:"structuring_band_high" validate:"gtfield=StructuringBandLow"`
	StructuringMinCount       int      `koanf:"structuring_min_count" validate:"gte=1"`
	LayeringMinCounterparties int      `koanf:"layering_min_counterparties" validate:"gte=1"`
	RapidOutflowPct           float64  `koanf:"rapid_outflow_pct" validate:"gt=0,lte=1"`
	IntlDebitAmount           float64  `koanf:"intl_debit_amount" validate:"gt=0"`
	IncomeTurnoverRatio       float64  `koanf:"income_turnover_ratio" validate:"gt=0"`
	FacilitationMinCredit     float64  `koanf:"facilitation_min_credit" validate:"gt=0"`
	HighRiskJurisdictions     []string `koanf:"high_risk_jurisdictions" validate:"dive,len=2"`
}

// Thresholds converts the section for the rule engine. The home country
// comes from the pipeline section.
func (c *Config) Thresholds() rules.Thresholds {
	r := c.Rules
	return rules.Thresholds{
		SingleTxnAmount:           decimal.NewFromFloat(r.SingleTxnAmount),
		TotalInflow:               decimal.NewFromFloat(r.TotalInflow),
		VelocityCount:             r.VelocityCount,
		UniqueCounterparties:      r.UniqueCounterparties,
		StructuringBandLow:        decimal.NewFromFloat(r.StructuringBandLow),
		StructuringBandHigh:       decimal.NewFromFloat(r.StructuringBandHigh),
		StructuringMinCount:       r.StructuringMinCount,
		LayeringMinCounterparties: r.LayeringMinCounterparties,
		RapidOutflowPct:           decimal.NewFromFloat(r.RapidOutflowPct),
		IntlDebitAmount:           decimal.NewFromFloat(r.IntlDebitAmount),
		IncomeTurnoverRatio:       decimal.NewFromFloat(r.IncomeTurnoverRatio),
		FacilitationMinCredit:     decimal.NewFromFloat(r.FacilitationMinCredit),
		HomeCountry:               strings.ToUpper(c.Pipeline.HomeCountry),
		HighRiskJurisdictions:     append([]string(nil), r.HighRiskJurisdictions...),
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	th := rules.DefaultThresholds()
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
			Auth: AuthConfig{
				Issuer:   "sar-pipeline",
				TokenTTL: time.Hour,
			},
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectDelay:    time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			ClaimTTL:     24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
		Pipeline: PipelineConfig{
			ServiceName:         "sar-claim-pipeline",
			RiskAlertThreshold:  0.75,
			DefaultJurisdiction: []string{"UK"},
			Environment:         "on-prem",
			RBACRoles:           []string{"analyst", "compliance_officer", "auditor"},
			RulesVersion:        "v1.0",
			LLMModel:            "llama-3.1-8b-instant",
			Temperature:         0.7,
			HomeCountry:         "IN",
			HighValueAmount:     100_000,
		},
		Omega: OmegaConfig{
			MinChecksPass:      10,
			MinNarrativeLength: 500,
			FilingPrefix:       "SAR",
		},
		Rules: RulesConfig{
			SingleTxnAmount:           th.SingleTxnAmount.InexactFloat64(),
			TotalInflow:               th.TotalInflow.InexactFloat64(),
			VelocityCount:             th.VelocityCount,
			UniqueCounterparties:      th.UniqueCounterparties,
			StructuringBandLow:        th.StructuringBandLow.InexactFloat64(),
			StructuringBandHigh:       th.StructuringBandHigh.InexactFloat64(),
			StructuringMinCount:       th.StructuringMinCount,
			LayeringMinCounterparties: th.LayeringMinCounterparties,
			RapidOutflowPct:           th.RapidOutflowPct.InexactFloat64(),
			IntlDebitAmount:           th.IntlDebitAmount.InexactFloat64(),
			IncomeTurnoverRatio:       th.IncomeTurnoverRatio.InexactFloat64(),
			FacilitationMinCredit:     th.FacilitationMinCredit.InexactFloat64(),
			HighRiskJurisdictions:     th.HighRiskJurisdictions,
		},
		Archive: ArchiveConfig{
			Region:        "ap-south-1",
			Prefix:        "sar-archives/",
			RetentionDays: 5 * 365,
		},
	}
}

// Load reads defaults, then the config file, then SAR_ environment
// variables, and validates the result.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG_FILE")
	if path == "" {
		path = DefaultFile
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SAR_OMEGA_MIN__CHECKS__PASS to omega.min_checks_pass.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", "\x00")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "\x00", "_")
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
