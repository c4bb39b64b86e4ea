package twitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicklaw5/helix/v2"
)

// User is the Twitch account behind a user access token.
type User struct {
	ID          string
	Login       string
	DisplayName string
}

// LookupUser resolves the account that owns accessToken.
func LookupUser(_ context.Context, clientID, accessToken string) (*User, error) {
	hc, err := helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}

	resp, err := hc.GetUsers(&helix.UsersParams{})
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("helix API error getting user: %s - %s", resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return nil, errors.New("token does not belong to a user")
	}
	u := resp.Data.Users[0]
	return &User{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
}
