package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InvoicingConfig is the hot-reloadable invoicing policy.
type InvoicingConfig struct {
	NetTermsDays         int64 `mapstructure:"netTermsDays"`
	VoidOrphanedDrafts   bool  `mapstructure:"voidOrphanedDrafts"`
	NotificationPageSize int   `mapstructure:"notificationPageSize"`
}

func DefaultInvoicingConfig() InvoicingConfig {
	return InvoicingConfig{
		NetTermsDays:         30,
		VoidOrphanedDrafts:   true,
		NotificationPageSize: 20,
	}
}

type InvoicingConfigHolder struct {
	current atomic.Value // holds InvoicingConfig
}

// NewStaticInvoicingConfigHolder returns a holder that never reloads.
func NewStaticInvoicingConfigHolder(cfg InvoicingConfig) *InvoicingConfigHolder {
	holder := &InvoicingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewInvoicingConfigHolder(log *zap.Logger) (*InvoicingConfigHolder, error) {
	v := viper.New()
	log = log.Named("invoicing.config")

	v.SetConfigName("invoicing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/compliancehub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COMPLIANCEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultInvoicingConfig()
	v.SetDefault("invoicing.netTermsDays", defaults.NetTermsDays)
	v.SetDefault("invoicing.voidOrphanedDrafts", defaults.VoidOrphanedDrafts)
	v.SetDefault("invoicing.notificationPageSize", defaults.NotificationPageSize)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg InvoicingConfig
	if err := v.UnmarshalKey("invoicing", &cfg); err != nil {
		return nil, err
	}
	if err := validateInvoicingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticInvoicingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvoicingConfig
		if err := v.UnmarshalKey("invoicing", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateInvoicingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *InvoicingConfigHolder) Get() InvoicingConfig {
	if h == nil {
		return DefaultInvoicingConfig()
	}
	return h.current.Load().(InvoicingConfig)
}

func validateInvoicingConfig(cfg InvoicingConfig) error {
	if cfg.NetTermsDays <= 0 {
		return errors.New("invoicing.netTermsDays must be positive")
	}
	if cfg.NotificationPageSize <= 0 || cfg.NotificationPageSize > 100 {
		return errors.New("invoicing.notificationPageSize must be between 1 and 100")
	}
	return nil
}
