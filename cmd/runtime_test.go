package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ticketbridge/internal/chat"
)

type profileMap map[string]*chat.UserProfile

func (m profileMap) GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error) {
	if p, ok := m[userID]; ok {
		return p, nil
	}
	return nil, errors.New("user_not_found")
}

func TestProfileMentions(t *testing.T) {
	resolve := profileMentions(profileMap{
		"U1": {ID: "U1", Name: "casey", DisplayName: "Casey"},
		"U2": {ID: "U2", Name: "drew", RealName: "Drew Park"},
		"U3": {ID: "U3"},
	}, zerolog.Nop())

	ctx := context.Background()
	assert.Equal(t, "Casey", resolve(ctx, 1, "U1"))
	assert.Equal(t, "Drew Park", resolve(ctx, 1, "U2"))
	assert.Equal(t, "", resolve(ctx, 1, "U3"))
	assert.Equal(t, "", resolve(ctx, 1, "U404"))
}
