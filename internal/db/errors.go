package db

import "errors"

// Domain conflicts reported by transactional writes. Callers translate them
// into user-facing errors.
var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrBattleNotRunning   = errors.New("battle is not running")
	ErrUnknownSlot        = errors.New("slot is not part of the battle")
	ErrRedemptionSettled  = errors.New("redemption already settled")
	ErrUnknownTeam        = errors.New("team is not part of the battle")
)
