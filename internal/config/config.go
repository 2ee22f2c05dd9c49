package config

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Fee schedule. Basis points of the clearing notional, rounded to the
	// nearest fils with ties up; the notarization fee is a fixed amount
	// per transaction, charged to the buyer.
	BuyerFeeBps         int64
	SellerFeeBps        int64
	NotarizationFeeFils int64

	// PlatformAccountID receives all fees.
	PlatformAccountID uuid.UUID

	NotaryURL         string
	NotaryAPIKey      string
	NotaryMaxAttempts int

	// CORSAllowedSuffix admits browser origins by domain suffix.
	CORSAllowedSuffix string

	SettlementMaxRetries int
	SweepIntervalSeconds int
}

// Default platform revenue account, overridable via PLATFORM_ACCOUNT_ID.
const defaultPlatformAccountID = "00000000-0000-0000-0000-000000000001"

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	platformID := viper.GetString("PLATFORM_ACCOUNT_ID")
	if platformID == "" {
		platformID = defaultPlatformAccountID
	}
	platform, err := uuid.Parse(platformID)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                  env,
		Port:                 port,
		DatabaseURL:          viper.GetString("DATABASE_URL"),
		RedisURL:             viper.GetString("REDIS_URL"),
		BuyerFeeBps:          viper.GetInt64("BUYER_FEE_BPS"),
		SellerFeeBps:         viper.GetInt64("SELLER_FEE_BPS"),
		NotarizationFeeFils:  viper.GetInt64("NOTARIZATION_FEE_FILS"),
		PlatformAccountID:    platform,
		NotaryURL:            viper.GetString("NOTARY_URL"),
		NotaryAPIKey:         viper.GetString("NOTARY_API_KEY"),
		NotaryMaxAttempts:    viper.GetInt("NOTARY_MAX_ATTEMPTS"),
		CORSAllowedSuffix:    viper.GetString("CORS_ALLOWED_SUFFIX"),
		SettlementMaxRetries: viper.GetInt("SETTLEMENT_MAX_RETRIES"),
		SweepIntervalSeconds: viper.GetInt("SWEEP_INTERVAL_SECONDS"),
	}
	if cfg.BuyerFeeBps == 0 {
		cfg.BuyerFeeBps = 150 // 1.5%
	}
	if cfg.SellerFeeBps == 0 {
		cfg.SellerFeeBps = 150
	}
	if cfg.NotarizationFeeFils == 0 {
		cfg.NotarizationFeeFils = 500 // 5 AED
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 30
	}
	return cfg, nil
}
