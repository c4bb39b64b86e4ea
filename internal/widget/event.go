// Package widget holds the closed catalogue of widget events and the
// processor that validates, authorizes, applies and records them.
//
// Every (widgetType, eventType) pair is one Go type implementing Event. Its
// apply method runs the kind's side effect against the domain tables and its
// reduce method returns the snapshot fields the event touches.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

var log = logger.New("WIDGET")

// Widget kinds.
const (
	KindBonusHunt    = "bonus_hunt"
	KindGuessBalance = "guess_balance"
	KindWagerBar     = "wager_bar"
	KindSlotRequests = "slot_requests"
	KindSlotBattle   = "slot_battle"
	KindPointsBattle = "points_battle"
	KindLoyalty      = "loyalty"
	KindLoyaltyStore = "loyalty_store"
	KindWheel        = "wheel"
	KindHotWords     = "hot_words"
)

// Instance kinds keep one snapshot per widget; every other kind keeps one
// snapshot per overlay.
var instanceKinds = map[string]bool{
	KindWagerBar:   true,
	KindSlotBattle: true,
	KindWheel:      true,
}

// IsInstanceKind reports whether events of the kind must target a widget.
func IsInstanceKind(widgetType string) bool {
	return instanceKinds[widgetType]
}

// IsKind reports whether widgetType names a known widget kind.
func IsKind(widgetType string) bool {
	switch widgetType {
	case KindBonusHunt, KindGuessBalance, KindWagerBar, KindSlotRequests, KindSlotBattle,
		KindPointsBattle, KindLoyalty, KindLoyaltyStore, KindWheel, KindHotWords:
		return true
	}
	return false
}

// Event is one (widgetType, eventType) variant.
type Event interface {
	WidgetType() string
	EventType() string
	apply(ctx context.Context, fx *effects) error
	reduce(state State) snapshot.Patch
}

// effects is what a side effect may touch.
type effects struct {
	store     *db.Store
	channelID uint
	overlayID uint
	widgetID  uint
	now       time.Time
	intn      func(n int) int
}

type pair struct {
	widgetType string
	eventType  string
}

// Decode maps a (widgetType, eventType) pair and its JSON payload to the
// matching Event. Unknown pairs and malformed payloads are validation_failed.
// Field-level rules are checked by the processor.
func Decode(widgetType, eventType string, payload json.RawMessage) (Event, error) {
	var ev Event
	switch (pair{widgetType, eventType}) {
	case pair{KindBonusHunt, EventHuntStart}:
		ev = &HuntStart{}
	case pair{KindBonusHunt, EventHuntAddBonus}:
		ev = &HuntAddBonus{}
	case pair{KindBonusHunt, EventHuntSetPayout}:
		ev = &HuntSetPayout{}
	case pair{KindBonusHunt, EventHuntFinish}:
		ev = &HuntFinish{}
	case pair{KindGuessBalance, EventGuessOpen}:
		ev = &GuessOpen{}
	case pair{KindGuessBalance, EventGuessClose}:
		ev = &GuessClose{}
	case pair{KindGuessBalance, EventGuessSubmitted}:
		ev = &GuessSubmitted{}
	case pair{KindGuessBalance, EventGuessResolve}:
		ev = &GuessResolve{}
	case pair{KindWagerBar, EventSetWager}:
		ev = &SetWager{}
	case pair{KindWagerBar, EventSetTarget}:
		ev = &SetTarget{}
	case pair{KindSlotRequests, EventRequestAdd}:
		ev = &RequestAdd{}
	case pair{KindSlotRequests, EventRequestRemove}:
		ev = &RequestRemove{}
	case pair{KindSlotRequests, EventRequestPlayed}:
		ev = &RequestPlayed{}
	case pair{KindSlotRequests, EventRequestClear}:
		ev = &RequestClear{}
	case pair{KindSlotBattle, EventBattleStart}:
		ev = &BattleStart{}
	case pair{KindSlotBattle, EventBattleRound}:
		ev = &BattleRound{}
	case pair{KindSlotBattle, EventBattleEnd}:
		ev = &BattleEnd{}
	case pair{KindPointsBattle, EventPBStart}:
		ev = &PBStart{}
	case pair{KindPointsBattle, EventPBEntries}:
		ev = &PBEntries{}
	case pair{KindPointsBattle, EventPBLock}:
		ev = &PBLock{}
	case pair{KindPointsBattle, EventPBResolve}:
		ev = &PBResolve{}
	case pair{KindLoyalty, EventPointsGrant}:
		ev = &PointsGrant{}
	case pair{KindLoyaltyStore, EventStoreRedeemed}:
		ev = &StoreRedeemed{}
	case pair{KindLoyaltyStore, EventRedemptionUpdate}:
		ev = &RedemptionUpdate{}
	case pair{KindWheel, EventWheelSpin}:
		ev = &WheelSpin{}
	case pair{KindHotWords, EventHotWordHit}:
		ev = &HotWordHit{}
	default:
		return nil, apperr.New(apperr.CodeValidationFailed, "unknown event %s/%s", widgetType, eventType)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return ev, nil
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidationFailed, "malformed "+widgetType+"/"+eventType+" payload", err)
	}
	return ev, nil
}

// State is a decoded snapshot state document. Numbers read back from storage
// are float64, lists are []any and objects are map[string]any.
type State map[string]any

func (s State) Float(key string) float64 {
	return toFloat(s[key])
}

// List returns a copy of the list stored under key.
func (s State) List(key string) []any {
	items, _ := s[key].([]any)
	out := make([]any, len(items))
	copy(out, items)
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func field(item any, key string) any {
	m, _ := item.(map[string]any)
	return m[key]
}

func copyItem(item any) map[string]any {
	m, _ := item.(map[string]any)
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
