package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role values for ChannelRole. Owners are never stored; ownership comes from
// Channel.OwnerUserID.
const (
	RoleModerator = "moderator"
)

// Channel represents the channels table.
type Channel struct {
	ID          uint          `gorm:"primaryKey;autoIncrement;column:channel_id"`
	TwitchID    string        `gorm:"column:channel_twitch_id;size:64;unique;not null"`
	Name        string        `gorm:"column:channel_name;size:64;not null"`
	OwnerUserID string        `gorm:"column:channel_owner_user_id;size:64;not null;index"`
	BotEnabled  bool          `gorm:"column:channel_bot_enabled;not null"`
	AccessToken string        `gorm:"column:channel_access_token;size:256"`
	Refresh     string        `gorm:"column:channel_refresh_token;size:256"`
	Overlays    []Overlay     `gorm:"foreignKey:ChannelID"`
	ConfigStore []ConfigStore `gorm:"foreignKey:ChannelID"`
}

// Overlay represents the overlays table.
type Overlay struct {
	ID          uint             `gorm:"primaryKey;autoIncrement;column:overlay_id"`
	ChannelID   uint             `gorm:"column:overlay_channel_id;not null;index"`
	Name        string           `gorm:"column:overlay_name;size:128;not null"`
	PublicToken string           `gorm:"column:overlay_public_token;size:64;unique;not null"`
	Widgets     []WidgetInstance `gorm:"foreignKey:OverlayID"`
}

// WidgetInstance is one configured widget placed on an overlay.
type WidgetInstance struct {
	ID        uint           `gorm:"primaryKey;autoIncrement;column:widget_id"`
	OverlayID uint           `gorm:"column:widget_overlay_id;not null;index"`
	Kind      string         `gorm:"column:widget_kind;size:32;not null;index"`
	IsEnabled bool           `gorm:"column:widget_is_enabled;not null"`
	Layout    datatypes.JSON `gorm:"column:widget_layout"`
}

// ChannelRole represents the channel_roles table.
type ChannelRole struct {
	ID          uint         `gorm:"primaryKey;autoIncrement;column:role_id"`
	ChannelID   uint         `gorm:"column:role_channel_id;not null;uniqueIndex:idx_role_channel_user"`
	UserID      string       `gorm:"column:role_user_id;size:64;not null;uniqueIndex:idx_role_channel_user"`
	UserName    string       `gorm:"column:role_user_name;size:64"`
	Role        string       `gorm:"column:role_role;size:16;not null"`
	Permissions []Permission `gorm:"foreignKey:ChannelRoleID;constraint:OnDelete:CASCADE"`
}

// Permission is a grant of one key to a role. A nil OverlayScope is
// channel-global; a nil WidgetScope covers every widget in scope.
type Permission struct {
	ID            uint   `gorm:"primaryKey;autoIncrement;column:permission_id"`
	ChannelRoleID uint   `gorm:"column:permission_role_id;not null;index"`
	Key           string `gorm:"column:permission_key;size:64;not null"`
	OverlayScope  *uint  `gorm:"column:permission_overlay_id"`
	WidgetScope   *uint  `gorm:"column:permission_widget_id"`
}

// WidgetEvent is the append-only event log. ActorID is nil for bot and
// ingest events.
type WidgetEvent struct {
	ID         string         `gorm:"primaryKey;size:36;column:event_id"`
	ChannelID  uint           `gorm:"column:event_channel_id;not null;index"`
	OverlayID  uint           `gorm:"column:event_overlay_id;not null;index"`
	WidgetID   *uint          `gorm:"column:event_widget_id"`
	WidgetType string         `gorm:"column:event_widget_type;size:32;not null"`
	EventType  string         `gorm:"column:event_event_type;size:32;not null"`
	Payload    datatypes.JSON `gorm:"column:event_payload"`
	ActorID    *string        `gorm:"column:event_actor_id;size:64"`
	CreatedAt  time.Time      `gorm:"column:event_created_at;autoCreateTime"`
}

func (e *WidgetEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// WidgetSnapshot holds the materialized state of one widget type on an
// overlay. WidgetID is 0 for channel-scoped widget kinds.
type WidgetSnapshot struct {
	ID          string         `gorm:"primaryKey;size:36;column:snapshot_id"`
	OverlayID   uint           `gorm:"column:snapshot_overlay_id;not null;uniqueIndex:idx_snapshot_key"`
	WidgetID    uint           `gorm:"column:snapshot_widget_id;not null;uniqueIndex:idx_snapshot_key"`
	WidgetType  string         `gorm:"column:snapshot_widget_type;size:32;not null;uniqueIndex:idx_snapshot_key"`
	State       datatypes.JSON `gorm:"column:snapshot_state"`
	Version     int64          `gorm:"column:snapshot_version;not null"`
	LastEventID string         `gorm:"column:snapshot_last_event_id;size:36"`
	UpdatedAt   time.Time      `gorm:"column:snapshot_updated_at;autoUpdateTime"`
}

func (s *WidgetSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// CooldownEntry represents the cooldowns table.
type CooldownEntry struct {
	ID            uint      `gorm:"primaryKey;autoIncrement;column:cooldown_id"`
	ChannelID     uint      `gorm:"column:cooldown_channel_id;not null;uniqueIndex:idx_cooldown_key"`
	ViewerID      string    `gorm:"column:cooldown_viewer_id;size:64;not null;uniqueIndex:idx_cooldown_key"`
	Action        string    `gorm:"column:cooldown_action;size:32;not null;uniqueIndex:idx_cooldown_key"`
	CooldownUntil time.Time `gorm:"column:cooldown_until;not null;index"`
}

// RateLimitWindow represents the rate_limit_windows table.
type RateLimitWindow struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:window_id"`
	Scope       string    `gorm:"column:window_scope;size:16;not null;index:idx_window_lookup"`
	ScopeID     string    `gorm:"column:window_scope_id;size:64;not null;index:idx_window_lookup"`
	Action      string    `gorm:"column:window_action;size:32;not null;index:idx_window_lookup"`
	WindowStart time.Time `gorm:"column:window_start;not null;index:idx_window_lookup"`
	HitCount    int       `gorm:"column:window_hit_count;not null"`
}

// HotWord represents the hot_words table.
type HotWord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement;column:hotword_id"`
	ChannelID       uint   `gorm:"column:hotword_channel_id;not null;index"`
	Phrase          string `gorm:"column:hotword_phrase;size:128;not null"`
	CooldownSeconds int    `gorm:"column:hotword_cooldown_seconds;not null"`
	PerUserLimit    int    `gorm:"column:hotword_per_user_limit;not null"`
	RewardPoints    int64  `gorm:"column:hotword_reward_points;not null"`
}

// HotWordOccurrence represents the hot_word_occurrences table.
type HotWordOccurrence struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:occurrence_id"`
	HotWordID uint      `gorm:"column:occurrence_hotword_id;not null;index:idx_occurrence_lookup"`
	ViewerID  string    `gorm:"column:occurrence_viewer_id;size:64;not null;index:idx_occurrence_lookup"`
	CreatedAt time.Time `gorm:"column:occurrence_created_at;not null;index"`
}

// ConfigStore represents the config_store table.
type ConfigStore struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;column:cs_id"`
	ChannelID uint   `gorm:"column:cs_channel_id;not null;index"`
	Key       string `gorm:"column:cs_key;size:128;not null"`
	Value     string `gorm:"column:cs_value;size:128;not null"`
}

// Hunt statuses.
const (
	HuntRunning  = "running"
	HuntFinished = "finished"
)

// BonusHunt represents the bonus_hunts table.
type BonusHunt struct {
	ID           uint      `gorm:"primaryKey;autoIncrement;column:hunt_id"`
	ChannelID    uint      `gorm:"column:hunt_channel_id;not null;index"`
	Title        string    `gorm:"column:hunt_title;size:128;not null"`
	StartBalance float64   `gorm:"column:hunt_start_balance;not null"`
	Status       string    `gorm:"column:hunt_status;size:16;not null"`
	GuessingOpen bool      `gorm:"column:hunt_guessing_open;not null"`
	CreatedAt    time.Time `gorm:"column:hunt_created_at;autoCreateTime"`
	Bonuses      []Bonus   `gorm:"foreignKey:HuntID"`
}

// Bonus represents the bonuses table. Payout is nil until the bonus is opened.
type Bonus struct {
	ID       uint     `gorm:"primaryKey;autoIncrement;column:bonus_id"`
	HuntID   uint     `gorm:"column:bonus_hunt_id;not null;index"`
	Slot     string   `gorm:"column:bonus_slot;size:128;not null"`
	Provider string   `gorm:"column:bonus_provider;size:64;not null"`
	Bet      float64  `gorm:"column:bonus_bet;not null"`
	Payout   *float64 `gorm:"column:bonus_payout"`
}

// Guess represents the guesses table. One row per (hunt, viewer).
type Guess struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:guess_id"`
	HuntID     uint      `gorm:"column:guess_hunt_id;not null;uniqueIndex:idx_guess_hunt_viewer"`
	ViewerID   string    `gorm:"column:guess_viewer_id;size:64;not null;uniqueIndex:idx_guess_hunt_viewer"`
	ViewerName string    `gorm:"column:guess_viewer_name;size:64"`
	Value      float64   `gorm:"column:guess_value;not null"`
	CreatedAt  time.Time `gorm:"column:guess_created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:guess_updated_at;autoUpdateTime"`
}

// Slot request statuses.
const (
	RequestPending = "pending"
	RequestPlayed  = "played"
	RequestRemoved = "removed"
)

// SlotRequest represents the slot_requests table.
type SlotRequest struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:request_id"`
	ChannelID  uint      `gorm:"column:request_channel_id;not null;index"`
	ViewerID   string    `gorm:"column:request_viewer_id;size:64"`
	ViewerName string    `gorm:"column:request_viewer_name;size:64"`
	Slot       string    `gorm:"column:request_slot;size:128;not null"`
	Status     string    `gorm:"column:request_status;size:16;not null;index"`
	CreatedAt  time.Time `gorm:"column:request_created_at;autoCreateTime"`
}

// SlotBlacklist represents the slot_blacklist table. Slot is stored lower-case.
type SlotBlacklist struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;column:blacklist_id"`
	ChannelID uint   `gorm:"column:blacklist_channel_id;not null;uniqueIndex:idx_blacklist_slot"`
	Slot      string `gorm:"column:blacklist_slot;size:128;not null;uniqueIndex:idx_blacklist_slot"`
}

// Battle statuses shared by slot and points battles.
const (
	BattleRunning  = "running"
	BattleLocked   = "locked"
	BattleResolved = "resolved"
	BattleFinished = "finished"
)

// SlotBattle represents the slot_battles table. One row per widget, reused
// across battles.
type SlotBattle struct {
	ID       uint           `gorm:"primaryKey;autoIncrement;column:battle_id"`
	WidgetID uint           `gorm:"column:battle_widget_id;not null;unique"`
	Slots    datatypes.JSON `gorm:"column:battle_slots"`
	Round    int            `gorm:"column:battle_round;not null"`
	Scores   datatypes.JSON `gorm:"column:battle_scores"`
	Status   string         `gorm:"column:battle_status;size:16;not null"`
}

// SlotBattleRound represents the slot_battle_rounds table.
type SlotBattleRound struct {
	ID       uint    `gorm:"primaryKey;autoIncrement;column:round_id"`
	BattleID uint    `gorm:"column:round_battle_id;not null;index"`
	Round    int     `gorm:"column:round_number;not null"`
	Slot     string  `gorm:"column:round_slot;size:128;not null"`
	Bet      float64 `gorm:"column:round_bet;not null"`
	Payout   float64 `gorm:"column:round_payout;not null"`
}

// Wager represents the wagers table.
type Wager struct {
	ID       uint    `gorm:"primaryKey;autoIncrement;column:wager_id"`
	WidgetID uint    `gorm:"column:wager_widget_id;not null;unique"`
	Value    float64 `gorm:"column:wager_value;not null"`
	Target   float64 `gorm:"column:wager_target;not null"`
}

// PointsLedger represents the points_ledger table. A viewer's balance is the
// sum of their deltas.
type PointsLedger struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:ledger_id"`
	ChannelID uint      `gorm:"column:ledger_channel_id;not null;index:idx_ledger_viewer"`
	ViewerID  string    `gorm:"column:ledger_viewer_id;size:64;not null;index:idx_ledger_viewer"`
	Delta     int64     `gorm:"column:ledger_delta;not null"`
	Reason    string    `gorm:"column:ledger_reason;size:128"`
	CreatedAt time.Time `gorm:"column:ledger_created_at;autoCreateTime"`
}

// PointsBattle represents the points_battles table.
type PointsBattle struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:pb_id"`
	ChannelID uint      `gorm:"column:pb_channel_id;not null;index"`
	Title     string    `gorm:"column:pb_title;size:128;not null"`
	TeamA     string    `gorm:"column:pb_team_a;size:64;not null"`
	TeamB     string    `gorm:"column:pb_team_b;size:64;not null"`
	EntryCost int64     `gorm:"column:pb_entry_cost;not null"`
	Status    string    `gorm:"column:pb_status;size:16;not null;index"`
	Winner    string    `gorm:"column:pb_winner;size:64"`
	CreatedAt time.Time `gorm:"column:pb_created_at;autoCreateTime"`
}

// PointsBattleEntry represents the points_battle_entries table.
type PointsBattleEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:entry_id"`
	BattleID   uint      `gorm:"column:entry_battle_id;not null;uniqueIndex:idx_entry_battle_viewer"`
	ViewerID   string    `gorm:"column:entry_viewer_id;size:64;not null;uniqueIndex:idx_entry_battle_viewer"`
	ViewerName string    `gorm:"column:entry_viewer_name;size:64"`
	Team       string    `gorm:"column:entry_team;size:64;not null"`
	Cost       int64     `gorm:"column:entry_cost;not null"`
	CreatedAt  time.Time `gorm:"column:entry_created_at;autoCreateTime"`
}

// StoreItem represents the store_items table.
type StoreItem struct {
	ID              uint   `gorm:"primaryKey;autoIncrement;column:item_id"`
	ChannelID       uint   `gorm:"column:item_channel_id;not null;index"`
	Name            string `gorm:"column:item_name;size:128;not null"`
	Cost            int64  `gorm:"column:item_cost;not null"`
	CooldownSeconds int    `gorm:"column:item_cooldown_seconds;not null"`
	IsActive        bool   `gorm:"column:item_is_active;not null"`
}

// Redemption statuses.
const (
	RedemptionPending   = "pending"
	RedemptionFulfilled = "fulfilled"
	RedemptionRejected  = "rejected"
)

// Redemption represents the redemptions table.
type Redemption struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:redemption_id"`
	ChannelID  uint      `gorm:"column:redemption_channel_id;not null;index"`
	ItemID     uint      `gorm:"column:redemption_item_id;not null;index"`
	ViewerID   string    `gorm:"column:redemption_viewer_id;size:64;not null;index"`
	ViewerName string    `gorm:"column:redemption_viewer_name;size:64"`
	Cost       int64     `gorm:"column:redemption_cost;not null"`
	Status     string    `gorm:"column:redemption_status;size:16;not null"`
	CreatedAt  time.Time `gorm:"column:redemption_created_at;not null"`
	Item       StoreItem `gorm:"foreignKey:ItemID"`
}

// WheelSpin represents the wheel_spins table.
type WheelSpin struct {
	ID          uint           `gorm:"primaryKey;autoIncrement;column:spin_id"`
	WidgetID    uint           `gorm:"column:spin_widget_id;not null;index"`
	Segments    datatypes.JSON `gorm:"column:spin_segments"`
	ResultIndex int            `gorm:"column:spin_result_index;not null"`
	Result      string         `gorm:"column:spin_result;size:128;not null"`
	CreatedAt   time.Time      `gorm:"column:spin_created_at;autoCreateTime"`
}
