package db

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
)

// ConfigKeys for per-channel settings
const (
	ConfigKeyGuessCooldown       = "guess_cooldown"
	ConfigKeySlotRequestCooldown = "slot_request_cooldown"
	ConfigKeySlotRequestsOpen    = "slot_requests_open"
	ConfigKeyChatReplies         = "chat_replies"
)

// GetConfig retrieves a configuration value for a channel
func GetConfig(db *gorm.DB, channelID uint, key string) (string, error) {
	var config ConfigStore
	err := db.Where("cs_channel_id = ? AND cs_key = ?", channelID, key).First(&config).Error
	if err != nil {
		return "", err
	}
	return config.Value, nil
}

// SetConfig sets a configuration value for a channel
func SetConfig(db *gorm.DB, channelID uint, key, value string) error {
	var config ConfigStore
	err := db.Where("cs_channel_id = ? AND cs_key = ?", channelID, key).First(&config).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		config = ConfigStore{
			ChannelID: channelID,
			Key:       key,
			Value:     value,
		}
		return db.Create(&config).Error
	} else if err != nil {
		return err
	}

	config.Value = value
	return db.Save(&config).Error
}

// GetConfigInt retrieves a configuration value as integer
func GetConfigInt(db *gorm.DB, channelID uint, key string, defaultValue int) int {
	value, err := GetConfig(db, channelID, key)
	if err != nil {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// GetConfigBool retrieves a configuration value as boolean
func GetConfigBool(db *gorm.DB, channelID uint, key string, defaultValue bool) bool {
	value, err := GetConfig(db, channelID, key)
	if err != nil {
		return defaultValue
	}

	return value == "true"
}

// ListConfig returns every stored setting of a channel keyed by name.
func ListConfig(db *gorm.DB, channelID uint) (map[string]string, error) {
	var rows []ConfigStore
	if err := db.Where("cs_channel_id = ?", channelID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
