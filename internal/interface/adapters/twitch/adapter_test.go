package twitchadapter

import (
	"context"
	"testing"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/ingest"
	"streamBot/pkg/errors"
)

func TestFromPrivateMessage(t *testing.T) {
	msg := twitch.PrivateMessage{
		User: twitch.User{
			ID: "42", Name: "Alice", DisplayName: "Alice",
			Badges: map[string]int{"moderator": 1, "subscriber": 2006},
		},
		ID:             "m1",
		Channel:        "canal",
		Message:        "cheer100 hola",
		Bits:           100,
		CustomRewardID: "",
		Tags:           map[string]string{"id": "m1"},
		Time:           time.Unix(100, 0),
	}

	raw := fromPrivateMessage(msg)
	assert.Equal(t, ingest.TwitchTypePrivmsg, raw.Type)
	assert.Equal(t, "alice", raw.Sender.Username)
	assert.Equal(t, "100", raw.Tags["bits"])
	assert.Equal(t, 2, raw.Sender.SubscriberTier)
	assert.ElementsMatch(t, []domain.CommandAccessRole{domain.CommandAccessModerators, domain.CommandAccessSubscribers}, raw.Sender.Roles)
	assert.Equal(t, time.Unix(100, 0), raw.ReceivedAt)
}

func TestFromUserNoticeKeepsParams(t *testing.T) {
	msg := twitch.UserNoticeMessage{
		User:      twitch.User{ID: "7", Name: "santa"},
		ID:        "n1",
		Channel:   "canal",
		MsgID:     "submysterygift",
		MsgParams: map[string]string{"msg-param-mass-gift-count": "5"},
		Tags:      map[string]string{"msg-param-sender-count": "40"},
	}

	raw := fromUserNotice(msg)
	assert.Equal(t, "submysterygift", raw.Tags["msg-id"])
	assert.Equal(t, "5", raw.Tags["msg-param-mass-gift-count"])
	assert.Equal(t, "40", raw.Tags["msg-param-sender-count"])
	assert.Equal(t, ingest.TwitchTypeUserNotice, raw.Type)
}

func TestFromClearChat(t *testing.T) {
	_, ok := fromClearChat(twitch.ClearChatMessage{Channel: "canal"})
	assert.False(t, ok, "borrado completo del chat")

	raw, ok := fromClearChat(twitch.ClearChatMessage{
		Channel: "canal", TargetUserID: "9", TargetUsername: "troll", BanDuration: 600,
		Tags: map[string]string{"tmi-sent-ts": "123"},
	})
	require.True(t, ok)
	assert.Equal(t, "600", raw.Tags["ban-duration"])
	assert.Equal(t, "troll", raw.Text)
	assert.Equal(t, "clearchat:9:123", raw.ID)

	raw, ok = fromClearChat(twitch.ClearChatMessage{TargetUserID: "9", TargetUsername: "troll"})
	require.True(t, ok)
	_, timed := raw.Tags["ban-duration"]
	assert.False(t, timed)
}

func TestSubscriberTier(t *testing.T) {
	tests := []struct {
		badges map[string]int
		want   int
	}{
		{nil, 0},
		{map[string]int{"subscriber": 12}, 1},
		{map[string]int{"subscriber": 2001}, 2},
		{map[string]int{"subscriber": 3024}, 3},
		{map[string]int{"founder": 0}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subscriberTier(tt.badges), "%v", tt.badges)
	}
}

func TestNotConfigured(t *testing.T) {
	a := NewAdapter(Config{})
	err := a.Connect(context.Background(), func(domain.RawEvent) {})
	assert.True(t, errors.IsNotConnected(err))
	assert.True(t, errors.IsNotConnected(a.SendMessage(context.Background(), domain.PlatformTwitch, "canal", "hola")))
}
