package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"

	"gorm.io/gorm"
)

// defaultConfig holds the default key/value pairs.
var defaultConfig = map[string]string{
	db.ConfigKeyGuessCooldown:       "20",
	db.ConfigKeySlotRequestCooldown: "30",
	db.ConfigKeySlotRequestsOpen:    "true",
	db.ConfigKeyChatReplies:         "true",
}

// ConfigStoreAccessor reads and writes per-channel settings, falling back to
// defaults for keys a channel never set.
type ConfigStoreAccessor struct {
	db *gorm.DB
}

func NewConfigStoreAccessor(store *db.Store) *ConfigStoreAccessor {
	return &ConfigStoreAccessor{db: store.DB()}
}

func (csa *ConfigStoreAccessor) Get(ctx context.Context, channelID uint, key string) (string, error) {
	val, err := db.GetConfig(csa.db.WithContext(ctx), channelID, key)
	if err == nil {
		return val, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	// Return default value if present, otherwise return an error.
	if val, ok := defaultConfig[key]; ok {
		return val, nil
	}
	return "", errors.New("no configuration found for key")
}

// Set stores a setting. Only keys with a default are accepted, and the value
// must have the default's type.
func (csa *ConfigStoreAccessor) Set(ctx context.Context, channelID uint, key string, value string) error {
	def, ok := defaultConfig[key]
	if !ok {
		return apperr.New(apperr.CodeValidationFailed, "unknown setting %q", key)
	}
	switch {
	case def == "true" || def == "false":
		if value != "true" && value != "false" {
			return apperr.New(apperr.CodeValidationFailed, "%s must be true or false", key)
		}
	default:
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return apperr.New(apperr.CodeValidationFailed, "%s must be a whole number of seconds", key)
		}
	}
	return db.SetConfig(csa.db.WithContext(ctx), channelID, key, value)
}

// All returns the defaults overlaid with the channel's stored settings.
func (csa *ConfigStoreAccessor) All(ctx context.Context, channelID uint) (map[string]string, error) {
	stored, err := db.ListConfig(csa.db.WithContext(ctx), channelID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(defaultConfig)+len(stored))
	for k, v := range defaultConfig {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Seconds reads key as a whole number of seconds. Unparsable values read as 0.
func (csa *ConfigStoreAccessor) Seconds(ctx context.Context, channelID uint, key string) time.Duration {
	val, err := csa.Get(ctx, channelID, key)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (csa *ConfigStoreAccessor) Bool(ctx context.Context, channelID uint, key string) bool {
	val, err := csa.Get(ctx, channelID, key)
	if err != nil {
		return false
	}
	return val == "true"
}
