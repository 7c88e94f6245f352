package config

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// NetworkBilling describes one metered wireless network.
type NetworkBilling struct {
	SSID            string   `mapstructure:"ssid"`
	MonthlyBill     float64  `mapstructure:"monthlyBill"`
	Currency        string   `mapstructure:"currency"`
	DailyLimitBytes int64    `mapstructure:"dailyLimitBytes"`
	Members         []string `mapstructure:"members"`
}

// BillingConfig is the file-backed billing section. Networks may be empty, in
// which case quota checks are disabled.
type BillingConfig struct {
	Networks []NetworkBilling `mapstructure:"networks"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{}
}

// BillingConfigHolder exposes the current billing config and swaps it on file
// change without restarting the process.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/netmeter/config")
	v.AddConfigPath("/etc/netmeter")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NETMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.networks", defaults.Networks)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg, with no file
// watching. Used by tests and dev runs without a billing file.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// Network returns the billing entry for an SSID, matched case-insensitively.
func (h *BillingConfigHolder) Network(ssid string) (NetworkBilling, bool) {
	ssid = strings.TrimSpace(ssid)
	for _, network := range h.Get().Networks {
		if strings.EqualFold(network.SSID, ssid) {
			return network, true
		}
	}
	return NetworkBilling{}, false
}

func validateBillingConfig(cfg BillingConfig) error {
	for i, network := range cfg.Networks {
		if strings.TrimSpace(network.SSID) == "" {
			return fmt.Errorf("billing.networks[%d].ssid cannot be empty", i)
		}
		if network.MonthlyBill < 0 {
			return fmt.Errorf("billing.networks[%d].monthlyBill cannot be negative", i)
		}
		if network.DailyLimitBytes < 0 {
			return fmt.Errorf("billing.networks[%d].dailyLimitBytes cannot be negative", i)
		}
	}
	return nil
}
