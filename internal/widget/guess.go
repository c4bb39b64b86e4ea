package widget

import (
	"context"
	"math"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventGuessOpen      = "guess_open"
	EventGuessClose     = "guess_close"
	EventGuessSubmitted = "guess_submitted"
	EventGuessResolve   = "guess_resolve"
)

type GuessOpen struct {
	HuntID     uint  `json:"hunt_id,omitempty"`
	GuessCount int64 `json:"guess_count"`
}

func (*GuessOpen) WidgetType() string { return KindGuessBalance }
func (*GuessOpen) EventType() string  { return EventGuessOpen }

func (e *GuessOpen) apply(ctx context.Context, fx *effects) error {
	hunt, err := runningHunt(ctx, fx)
	if err != nil {
		return err
	}
	if err := fx.store.SetGuessingOpen(ctx, hunt.ID, true); err != nil {
		return err
	}
	count, err := fx.store.CountGuesses(ctx, hunt.ID)
	if err != nil {
		return err
	}
	e.HuntID = hunt.ID
	e.GuessCount = count
	return nil
}

func (e *GuessOpen) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"open":        true,
		"hunt_id":     e.HuntID,
		"guess_count": e.GuessCount,
		"winner":      nil,
		"final_value": nil,
	}
}

type GuessClose struct{}

func (*GuessClose) WidgetType() string { return KindGuessBalance }
func (*GuessClose) EventType() string  { return EventGuessClose }

func (e *GuessClose) apply(ctx context.Context, fx *effects) error {
	hunt, err := fx.store.LatestHunt(ctx, fx.channelID)
	if err != nil {
		return err
	}
	if hunt == nil {
		return apperr.New(apperr.CodeNotFound, "no bonus hunt to close guessing on")
	}
	return fx.store.SetGuessingOpen(ctx, hunt.ID, false)
}

func (e *GuessClose) reduce(State) snapshot.Patch {
	return snapshot.Patch{"open": false}
}

// GuessSubmitted refreshes the guess counter after a viewer guessed. The
// guess row itself is written by whoever accepted the guess.
type GuessSubmitted struct {
	ViewerID   string  `json:"viewer_id" validate:"required"`
	ViewerName string  `json:"viewer_name"`
	Value      float64 `json:"value" validate:"gte=0"`
	GuessCount int64   `json:"guess_count" validate:"gte=0"`
}

func (*GuessSubmitted) WidgetType() string { return KindGuessBalance }
func (*GuessSubmitted) EventType() string  { return EventGuessSubmitted }

func (e *GuessSubmitted) apply(context.Context, *effects) error { return nil }

func (e *GuessSubmitted) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"guess_count": e.GuessCount,
		"last_guess": map[string]any{
			"viewer_name": e.ViewerName,
			"value":       e.Value,
		},
	}
}

type GuessWinner struct {
	ViewerID   string  `json:"viewer_id"`
	ViewerName string  `json:"viewer_name"`
	Value      float64 `json:"value"`
	Difference float64 `json:"difference"`
}

type GuessResolve struct {
	FinalValue float64      `json:"final_value" validate:"gte=0"`
	Winner     *GuessWinner `json:"winner,omitempty"`
}

func (*GuessResolve) WidgetType() string { return KindGuessBalance }
func (*GuessResolve) EventType() string  { return EventGuessResolve }

func (e *GuessResolve) apply(ctx context.Context, fx *effects) error {
	hunt, err := fx.store.LatestHunt(ctx, fx.channelID)
	if err != nil {
		return err
	}
	if hunt == nil {
		return apperr.New(apperr.CodeNotFound, "no bonus hunt to resolve guesses on")
	}
	if err := fx.store.SetGuessingOpen(ctx, hunt.ID, false); err != nil {
		return err
	}
	best, err := fx.store.ClosestGuess(ctx, hunt.ID, e.FinalValue)
	if err != nil {
		return err
	}
	e.Winner = nil
	if best != nil {
		e.Winner = &GuessWinner{
			ViewerID:   best.ViewerID,
			ViewerName: best.ViewerName,
			Value:      best.Value,
			Difference: math.Abs(best.Value - e.FinalValue),
		}
	}
	return nil
}

func (e *GuessResolve) reduce(State) snapshot.Patch {
	var winner any
	if e.Winner != nil {
		winner = map[string]any{
			"viewer_id":   e.Winner.ViewerID,
			"viewer_name": e.Winner.ViewerName,
			"value":       e.Winner.Value,
			"difference":  e.Winner.Difference,
		}
	}
	return snapshot.Patch{
		"open":        false,
		"final_value": e.FinalValue,
		"winner":      winner,
	}
}
