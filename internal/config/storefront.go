package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// StorefrontConfig holds operator-tunable selling settings.
type StorefrontConfig struct {
	Price       string `mapstructure:"price"`
	ProductName string `mapstructure:"productName"`
	MaxAttempts int    `mapstructure:"maxAttempts"`
}

func DefaultStorefrontConfig() StorefrontConfig {
	return StorefrontConfig{
		Price:       "19.90",
		ProductName: "Team Seat",
		MaxAttempts: 1,
	}
}

// Amount returns the order price rounded to cents.
func (c StorefrontConfig) Amount() decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Price))
	if err != nil {
		return decimal.Zero
	}
	return amount.Round(2)
}

type StorefrontHolder struct {
	current atomic.Value // holds StorefrontConfig
}

// NewStaticStorefrontHolder returns a holder that never reloads.
func NewStaticStorefrontHolder(cfg StorefrontConfig) *StorefrontHolder {
	holder := &StorefrontHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewStorefrontHolder() (*StorefrontHolder, error) {
	v := viper.New()

	v.SetConfigName("storefront")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/seatbroker/config")
	v.AddConfigPath("/etc/seatbroker")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEATBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultStorefrontConfig()
	v.SetDefault("storefront.price", defaults.Price)
	v.SetDefault("storefront.productName", defaults.ProductName)
	v.SetDefault("storefront.maxAttempts", defaults.MaxAttempts)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg StorefrontConfig
	if err := v.UnmarshalKey("storefront", &cfg); err != nil {
		return nil, err
	}
	if err := validateStorefrontConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticStorefrontHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated StorefrontConfig
		if err := v.UnmarshalKey("storefront", &updated); err != nil {
			log.Printf("[storefront-config] reload failed: %v", err)
			return
		}
		if err := validateStorefrontConfig(updated); err != nil {
			log.Printf("[storefront-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[storefront-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *StorefrontHolder) Get() StorefrontConfig {
	return h.current.Load().(StorefrontConfig)
}

func validateStorefrontConfig(cfg StorefrontConfig) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(cfg.Price))
	if err != nil {
		return errors.New("storefront.price must be a decimal number")
	}
	if !amount.IsPositive() {
		return errors.New("storefront.price must be positive")
	}
	if strings.TrimSpace(cfg.ProductName) == "" {
		return errors.New("storefront.productName cannot be empty")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("storefront.maxAttempts must be at least 1")
	}
	return nil
}
