package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings holds the operator-tunable business rules. The file is watched,
// so changes apply to in-flight services without a redeploy.
type Settings struct {
	RechargeMinAmount float64 `mapstructure:"recharge_min_amount"`
	RechargeMaxAmount float64 `mapstructure:"recharge_max_amount"`
	CashbackPercent   float64 `mapstructure:"cashback_percent"`

	MaxDailyRecharges int `mapstructure:"max_daily_recharges"`
	MaxDailyOffers    int `mapstructure:"max_daily_offers"`

	MaxPolls   int             `mapstructure:"max_polls"`
	PollDelays []time.Duration `mapstructure:"poll_delays"`

	OfferCacheTTL     time.Duration `mapstructure:"offer_cache_ttl"`
	RateLimitFailOpen bool          `mapstructure:"rate_limit_fail_open"`
	RateLimitTimezone string        `mapstructure:"rate_limit_timezone"`
	HistoryMaxLimit   int           `mapstructure:"history_max_limit"`
}

// DefaultSettings mirrors the values the service ships with.
func DefaultSettings() Settings {
	return Settings{
		RechargeMinAmount: 20,
		RechargeMaxAmount: 5000,
		CashbackPercent:   1.5,
		MaxDailyRecharges: 10,
		MaxDailyOffers:    5,
		MaxPolls:          10,
		PollDelays: []time.Duration{
			5 * time.Second, 5 * time.Second,
			10 * time.Second, 10 * time.Second,
			15 * time.Second, 20 * time.Second,
			30 * time.Second, 30 * time.Second,
			60 * time.Second, 60 * time.Second,
		},
		OfferCacheTTL:     6 * time.Hour,
		RateLimitFailOpen: true,
		RateLimitTimezone: "Asia/Dhaka",
		HistoryMaxLimit:   50,
	}
}

// PollDelay returns the wait before poll attempt (zero-based). Attempts
// beyond the configured schedule reuse the last delay.
func (s Settings) PollDelay(attempt int) time.Duration {
	if len(s.PollDelays) == 0 {
		return time.Minute
	}
	if attempt >= len(s.PollDelays) {
		return s.PollDelays[len(s.PollDelays)-1]
	}
	return s.PollDelays[attempt]
}

// Location resolves the rate-limit timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.RateLimitTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SettingsStore serves the current Settings snapshot and hot-reloads it
// from a YAML file via viper.
type SettingsStore struct {
	mu      sync.RWMutex
	current Settings
	logger  *slog.Logger
}

// NewSettingsStore loads settings from path and starts watching it. A
// missing file is not fatal: defaults apply until the file appears.
func NewSettingsStore(path string, logger *slog.Logger) (*SettingsStore, error) {
	store := &SettingsStore{
		current: DefaultSettings(),
		logger:  logger.With("component", "settings"),
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			store.logger.Warn("settings file unreadable, using defaults", "path", path, "error", err)
		}
	} else {
		settings, err := decode(v)
		if err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		store.current = settings
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		settings, err := decode(v)
		if err != nil {
			store.logger.Error("settings reload failed, keeping previous", "error", err)
			return
		}
		store.mu.Lock()
		store.current = settings
		store.mu.Unlock()
		store.logger.Info("settings reloaded", "path", path)
	})
	v.WatchConfig()

	return store, nil
}

// Current returns the latest settings snapshot.
func (s *SettingsStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func applyDefaults(v *viper.Viper) {
	def := DefaultSettings()
	v.SetDefault("recharge_min_amount", def.RechargeMinAmount)
	v.SetDefault("recharge_max_amount", def.RechargeMaxAmount)
	v.SetDefault("cashback_percent", def.CashbackPercent)
	v.SetDefault("max_daily_recharges", def.MaxDailyRecharges)
	v.SetDefault("max_daily_offers", def.MaxDailyOffers)
	v.SetDefault("max_polls", def.MaxPolls)
	v.SetDefault("poll_delays", def.PollDelays)
	v.SetDefault("offer_cache_ttl", def.OfferCacheTTL)
	v.SetDefault("rate_limit_fail_open", def.RateLimitFailOpen)
	v.SetDefault("rate_limit_timezone", def.RateLimitTimezone)
	v.SetDefault("history_max_limit", def.HistoryMaxLimit)
}

func decode(v *viper.Viper) (Settings, error) {
	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, err
	}
	if settings.MaxPolls <= 0 {
		return Settings{}, fmt.Errorf("max_polls must be positive")
	}
	if settings.RechargeMinAmount <= 0 || settings.RechargeMaxAmount < settings.RechargeMinAmount {
		return Settings{}, fmt.Errorf("invalid recharge amount bounds")
	}
	return settings, nil
}
