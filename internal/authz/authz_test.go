package authz

import (
	"context"
	"testing"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
)

type fakeStore struct {
	channel *db.Channel
	roles   map[string]*db.ChannelRole
	perms   []db.Permission
}

func (f *fakeStore) GetChannel(ctx context.Context, channelID uint) (*db.Channel, error) {
	if f.channel == nil || f.channel.ID != channelID {
		return nil, nil
	}
	return f.channel, nil
}

func (f *fakeStore) GetChannelRole(ctx context.Context, channelID uint, userID string) (*db.ChannelRole, error) {
	return f.roles[userID], nil
}

func (f *fakeStore) ListPermissions(ctx context.Context, roleID uint, key string) ([]db.Permission, error) {
	var out []db.Permission
	for _, p := range f.perms {
		if p.ChannelRoleID == roleID && p.Key == key {
			out = append(out, p)
		}
	}
	return out, nil
}

func ptr(v uint) *uint { return &v }

func newFake(perms ...db.Permission) *fakeStore {
	return &fakeStore{
		channel: &db.Channel{ID: 1, OwnerUserID: "owner"},
		roles: map[string]*db.ChannelRole{
			"mod":    {ID: 10, ChannelID: 1, UserID: "mod", Role: db.RoleModerator},
			"viewer": {ID: 11, ChannelID: 1, UserID: "viewer", Role: "viewer"},
		},
		perms: perms,
	}
}

func TestAuthorize(t *testing.T) {
	key := WidgetKey("wager_bar")

	tests := []struct {
		name  string
		perms []db.Permission
		req   Request
		want  apperr.Code
	}{
		{
			name: "owner needs no rows",
			req:  Request{ActorID: "owner", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
		},
		{
			name: "stranger is forbidden",
			req:  Request{ActorID: "nobody", ChannelID: 1, Key: key},
			want: apperr.CodeForbidden,
		},
		{
			name: "non-moderator role is forbidden",
			req:  Request{ActorID: "viewer", ChannelID: 1, Key: key},
			want: apperr.CodeForbidden,
		},
		{
			name: "moderator without rows is denied",
			req:  Request{ActorID: "mod", ChannelID: 1, Key: key},
			want: apperr.CodeMissingPermission,
		},
		{
			name:  "global grant covers any overlay and widget",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
		},
		{
			name:  "grant for another key does not count",
			perms: []db.Permission{{ChannelRoleID: 10, Key: WidgetKey("wheel")}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key},
			want:  apperr.CodeMissingPermission,
		},
		{
			name:  "overlay grant matches its overlay",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5)}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
		},
		{
			name:  "overlay grant does not match another overlay",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5)}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(6)},
			want:  apperr.CodeMissingPermission,
		},
		{
			name:  "overlay grant does not apply without an overlay",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5)}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key},
			want:  apperr.CodeMissingPermission,
		},
		{
			name:  "widget grant matches its widget",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5), WidgetScope: ptr(9)}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
		},
		{
			name:  "widget grant does not cover a sibling widget",
			perms: []db.Permission{{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5), WidgetScope: ptr(9)}},
			req:   Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(8)},
			want:  apperr.CodeMissingPermission,
		},
		{
			name: "overlay and widget checks are met by different rows",
			perms: []db.Permission{
				{ChannelRoleID: 10, Key: key, OverlayScope: ptr(5), WidgetScope: ptr(8)},
				{ChannelRoleID: 10, Key: key, OverlayScope: ptr(6), WidgetScope: ptr(9)},
			},
			req: Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
		},
		{
			name: "widget row alone does not satisfy the overlay check",
			perms: []db.Permission{
				{ChannelRoleID: 10, Key: key, OverlayScope: ptr(6), WidgetScope: ptr(9)},
			},
			req:  Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(5), WidgetID: ptr(9)},
			want: apperr.CodeMissingPermission,
		},
		{
			name: "unknown channel",
			req:  Request{ActorID: "owner", ChannelID: 2, Key: key},
			want: apperr.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFake(tt.perms...))
			err := r.Authorize(context.Background(), tt.req)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			if got := apperr.CodeOf(err); got != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGlobalGrantAnyScope(t *testing.T) {
	key := WidgetKey("bonus_hunt")
	r := NewResolver(newFake(db.Permission{ChannelRoleID: 10, Key: key}))

	for overlay := uint(1); overlay <= 3; overlay++ {
		for widget := uint(0); widget <= 3; widget++ {
			req := Request{ActorID: "mod", ChannelID: 1, Key: key, OverlayID: ptr(overlay)}
			if widget > 0 {
				req.WidgetID = ptr(widget)
			}
			if err := r.Authorize(context.Background(), req); err != nil {
				t.Fatalf("overlay %d widget %d: %v", overlay, widget, err)
			}
		}
	}
}

func TestCheckReportsReason(t *testing.T) {
	r := NewResolver(newFake())

	allowed, reason, err := r.Check(context.Background(), Request{ActorID: "mod", ChannelID: 1, Key: "widgets.wheel"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if allowed || reason != string(apperr.CodeMissingPermission) {
		t.Fatalf("expected denied with missing_permission, got %t %q", allowed, reason)
	}
}
