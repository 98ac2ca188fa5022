package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Storefront companion listen address"`
	DatabaseURL string `usage:"PostgreSQL URL for the reconciliation log (SHOP_DATABASE_URL or DATABASE_URL), in-memory when empty" flag:"database-url"`
	Marketplace MarketplaceConfig
	Gateway     GatewayConfig
	Cart        CartConfig
	Attempts    AttemptsConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// MarketplaceConfig points at the marketplace REST backend.
type MarketplaceConfig struct {
	BaseURL string        `usage:"Marketplace backend base URL" flag:"marketplace-url"`
	Timeout time.Duration `default:"10s" usage:"Per-request timeout for backend calls" flag:"marketplace-timeout"`
	// Token signs the companion in at startup, mostly for local runs.
	Token string `usage:"Session token to sign in with at startup" flag:"token"`
}

// GatewayConfig controls the hosted payment gateway.
type GatewayConfig struct {
	ScriptURL   string `default:"https://checkout.razorpay.com/v1/checkout.js" usage:"Gateway checkout script, fetched once before the first payment" flag:"gateway-script"`
	CheckoutURL string `usage:"Hosted gateway page the user is sent to" flag:"gateway-checkout-url"`
	Currency    string `default:"INR" usage:"Currency used when an order carries none" flag:"gateway-currency"`
}

// CartConfig tunes the cart store.
type CartConfig struct {
	ResyncAfterCheckout bool `default:"false" usage:"Re-fetch the cart after a granted checkout instead of clearing it" flag:"cart-resync"`
}

// AttemptsConfig controls how long finished checkout attempts stay readable.
type AttemptsConfig struct {
	Retention time.Duration `default:"1h" usage:"Retention of finished checkout attempts" flag:"attempts-retention"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Marketplace.BaseURL == "" {
		return errors.New("marketplace base URL is required")
	}
	if c.Gateway.Currency == "" {
		return errors.New("gateway currency must not be empty")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the SHOP_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
