package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/users"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *users.Resolver) {
	t.Helper()
	resolver := users.NewResolver(users.Config{Logger: zap.NewNop()})
	dedup, err := NewLRUDeduper(16)
	require.NoError(t, err)
	return NewNormalizer(resolver, dedup, zap.NewNop()), resolver
}

func twitchNotice(id, msgID string, sender domain.RawUser, tags map[string]string) domain.RawEvent {
	all := map[string]string{"msg-id": msgID}
	for k, v := range tags {
		all[k] = v
	}
	return domain.RawEvent{
		Platform:   domain.PlatformTwitch,
		ID:         id,
		Type:       TwitchTypeUserNotice,
		ChannelID:  "chan",
		Sender:     sender,
		Tags:       all,
		ReceivedAt: time.Unix(1700000000, 0),
	}
}

func TestNormalizeDropsDuplicateIDs(t *testing.T) {
	n, _ := newTestNormalizer(t)
	raw := domain.RawEvent{
		Platform: domain.PlatformTwitch,
		ID:       "msg-1",
		Type:     TwitchTypePrivmsg,
		Sender:   domain.RawUser{ID: "1", Username: "alice"},
		Text:     "!hello world",
	}

	first, ok := n.Normalize(context.Background(), raw)
	require.True(t, ok)
	assert.Equal(t, []string{"!hello", "world"}, first.Arguments)

	_, ok = n.Normalize(context.Background(), raw)
	assert.False(t, ok)

	raw.ID = "msg-2"
	_, ok = n.Normalize(context.Background(), raw)
	assert.True(t, ok)
}

func TestNormalizeSameIDOnDifferentPlatformsIsNotDuplicate(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	_, ok := n.Normalize(ctx, domain.RawEvent{Platform: domain.PlatformTwitch, ID: "7", Type: TwitchTypePrivmsg, Sender: domain.RawUser{ID: "1", Username: "a"}, Text: "hi"})
	require.True(t, ok)
	_, ok = n.Normalize(ctx, domain.RawEvent{Platform: domain.PlatformGlimesh, ID: "7", Type: GlimeshTypeChat, Sender: domain.RawUser{ID: "1", Username: "a"}, Text: "hi"})
	assert.True(t, ok)
}

func TestNormalizeTwitch(t *testing.T) {
	sender := domain.RawUser{ID: "100", Username: "alice", DisplayName: "Alice"}

	tests := []struct {
		name  string
		raw   domain.RawEvent
		kind  domain.EventKind
		attrs map[string]string
	}{
		{
			name:  "sub maps plan tier",
			raw:   twitchNotice("a", "sub", sender, map[string]string{"msg-param-sub-plan": "2000"}),
			kind:  domain.EventSubscribe,
			attrs: map[string]string{domain.AttrSubPlan: "Tier 2", domain.AttrSubPlanName: "Tier 2", domain.AttrSubMonths: "1"},
		},
		{
			name: "resub takes the larger of streak and cumulative",
			raw: twitchNotice("b", "resub", sender, map[string]string{
				"msg-param-sub-plan":          "Prime",
				"msg-param-sub-plan-name":     "Channel Subscription (foo)",
				"msg-param-streak-months":     "3",
				"msg-param-cumulative-months": "11",
			}),
			kind:  domain.EventResubscribe,
			attrs: map[string]string{domain.AttrSubPlan: "Prime", domain.AttrSubPlanName: "Channel Subscription (foo)", domain.AttrSubMonths: "11", domain.AttrSubStreak: "3"},
		},
		{
			name:  "mass gift with garbage count defaults to one",
			raw:   twitchNotice("c", "submysterygift", sender, map[string]string{"msg-param-mass-gift-count": "lots", "msg-param-sender-count": "40"}),
			kind:  domain.EventMassSubscriptionsGifted,
			attrs: map[string]string{domain.AttrSubsGiftedAmount: "1", domain.AttrSubsGiftedLifetime: "40", domain.AttrIsAnonymous: "false"},
		},
		{
			name:  "raid viewer count",
			raw:   twitchNotice("d", "raid", sender, map[string]string{"msg-param-viewerCount": "12"}),
			kind:  domain.EventRaided,
			attrs: map[string]string{domain.AttrRaidViewerCount: "12"},
		},
		{
			name: "bits cheer",
			raw: domain.RawEvent{
				Platform: domain.PlatformTwitch, ID: "e", Type: TwitchTypePrivmsg, Sender: sender,
				Text: "cheer100 nice", Tags: map[string]string{"bits": "100"},
			},
			kind:  domain.EventBitsCheered,
			attrs: map[string]string{domain.AttrBitsAmount: "100", domain.AttrMessage: "cheer100 nice"},
		},
		{
			name: "channel points redemption",
			raw: domain.RawEvent{
				Platform: domain.PlatformTwitch, ID: "f", Type: TwitchTypePrivmsg, Sender: sender,
				Text: "hydrate", Tags: map[string]string{"custom-reward-id": "rw-1"},
			},
			kind:  domain.EventChannelPointsRedeemed,
			attrs: map[string]string{domain.AttrRewardID: "rw-1"},
		},
		{
			name: "timeout",
			raw: domain.RawEvent{
				Platform: domain.PlatformTwitch, ID: "g", Type: TwitchTypeClearChat, Text: "spammer",
				Tags: map[string]string{"target-user-id": "55", "ban-duration": "600"},
			},
			kind:  domain.EventTimeout,
			attrs: map[string]string{domain.AttrTimeoutLength: "600"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(t)
			ev, ok := n.Normalize(context.Background(), tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.kind, ev.Kind)
			for k, v := range tt.attrs {
				assert.Equal(t, v, ev.Attr(k), k)
			}
		})
	}
}

func TestNormalizeTwitchGiftResolvesReceiver(t *testing.T) {
	n, resolver := newTestNormalizer(t)
	raw := twitchNotice("g1", "subgift", domain.RawUser{ID: "1", Username: "gifter"}, map[string]string{
		"msg-param-recipient-id":           "2",
		"msg-param-recipient-user-name":    "lucky",
		"msg-param-recipient-display-name": "Lucky",
		"msg-param-gift-months":            "3",
	})

	ev, ok := n.Normalize(context.Background(), raw)
	require.True(t, ok)
	require.NotNil(t, ev.TargetUser)
	assert.Equal(t, "Lucky", ev.TargetUser.DisplayName(domain.PlatformTwitch))
	assert.Equal(t, "3", ev.Attr(domain.AttrSubMonthsGifted))
	assert.Same(t, ev.TargetUser, resolver.FindByPlatformID(domain.PlatformTwitch, "2"))
	assert.False(t, ev.IsAnonymous())
}

func TestNormalizeTwitchAnonymousGifter(t *testing.T) {
	n, resolver := newTestNormalizer(t)
	raw := twitchNotice("m1", "submysterygift", domain.RawUser{ID: "274598607", Username: "AnAnonymousGifter"}, map[string]string{
		"msg-param-mass-gift-count": "5",
	})

	ev, ok := n.Normalize(context.Background(), raw)
	require.True(t, ok)
	assert.True(t, ev.IsAnonymous())
	assert.True(t, ev.ActingUser.IsUnassociated())
	assert.Equal(t, 0, resolver.Count())
}

func TestNormalizeBanMarksUserBanned(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ev, ok := n.Normalize(context.Background(), domain.RawEvent{
		Platform: domain.PlatformTwitch, ID: "ban-1", Type: TwitchTypeClearChat, Text: "troll",
		Tags: map[string]string{"target-user-id": "66"},
	})
	require.True(t, ok)
	assert.Equal(t, domain.EventBan, ev.Kind)
	assert.True(t, ev.ActingUser.IsBanned(domain.PlatformTwitch))
}

func TestNormalizeChatCountsMessages(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()
	sender := domain.RawUser{ID: "9", Username: "chatty"}

	for _, id := range []string{"1", "2", "3"} {
		_, ok := n.Normalize(ctx, domain.RawEvent{Platform: domain.PlatformTwitch, ID: id, Type: TwitchTypePrivmsg, Sender: sender, Text: "hola"})
		require.True(t, ok)
	}
	ev, _ := n.Normalize(ctx, domain.RawEvent{Platform: domain.PlatformTwitch, ID: "4", Type: TwitchTypePrivmsg, Sender: sender, Text: "hola"})
	assert.Equal(t, int64(4), ev.ActingUser.Counter(domain.CounterMessagesSent))
}

func TestNormalizeTrovo(t *testing.T) {
	sender := domain.RawUser{ID: "t1", Username: "trovian"}

	tests := []struct {
		name  string
		typ   string
		text  string
		ok    bool
		kind  domain.EventKind
		attrs map[string]string
	}{
		{name: "follow", typ: TrovoTypeFollow, ok: true, kind: domain.EventFollow},
		{name: "mass gift", typ: TrovoTypeMassGift, text: "10", ok: true, kind: domain.EventMassSubscriptionsGifted, attrs: map[string]string{domain.AttrSubsGiftedAmount: "10"}},
		{name: "mass gift unparseable", typ: TrovoTypeMassGift, text: "x", ok: true, kind: domain.EventMassSubscriptionsGifted, attrs: map[string]string{domain.AttrSubsGiftedAmount: "1"}},
		{name: "single gift", typ: TrovoTypeGift, text: "trovian,friend", ok: true, kind: domain.EventSubscriptionGifted},
		{name: "malformed gift", typ: TrovoTypeGift, text: "trovian", ok: false},
		{name: "raid", typ: TrovoTypeRaid, text: "Bob is carrying 42 raiders to this channel.", ok: true, kind: domain.EventRaided, attrs: map[string]string{domain.AttrRaidViewerCount: "42"}},
		{name: "welcome without raid", typ: TrovoTypeRaid, text: "Bob joined the channel", ok: false},
		{
			name: "spell", typ: TrovoTypeSpell, text: `{"gift":"Rage","num":3,"gift_value":100,"value_type":"Mana"}`, ok: true,
			kind:  domain.EventSpellCast,
			attrs: map[string]string{domain.AttrSpellName: "Rage", domain.AttrSpellQuantity: "3", domain.AttrSpellValue: "300", domain.AttrSpellValueType: "Mana"},
		},
		{name: "unknown", typ: "4242", ok: false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(t)
			ev, ok := n.Normalize(context.Background(), domain.RawEvent{
				Platform: domain.PlatformTrovo,
				ID:       string(rune('a' + i)),
				Type:     tt.typ,
				Sender:   sender,
				Text:     tt.text,
			})
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, ev.Kind)
			for k, v := range tt.attrs {
				assert.Equal(t, v, ev.Attr(k), k)
			}
		})
	}
}

func TestNormalizeYouTubeGiftReceivedSwapsUsers(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ev, ok := n.Normalize(context.Background(), domain.RawEvent{
		Platform: domain.PlatformYouTube,
		ID:       "yt-1",
		Type:     YouTubeTypeGiftMembershipRx,
		Sender:   domain.RawUser{ID: "rx", Username: "receiver"},
		Tags:     map[string]string{"gifter_channel_id": "gx", "gifter_name": "generous"},
	})
	require.True(t, ok)
	assert.Equal(t, domain.EventSubscriptionGifted, ev.Kind)
	assert.Equal(t, "generous", ev.ActingUser.Username(domain.PlatformYouTube))
	require.NotNil(t, ev.TargetUser)
	assert.Equal(t, "receiver", ev.TargetUser.Username(domain.PlatformYouTube))
}

func TestNormalizeUnknownPlatform(t *testing.T) {
	n, _ := newTestNormalizer(t)
	_, ok := n.Normalize(context.Background(), domain.RawEvent{Platform: "kick", ID: "1", Type: "chat"})
	assert.False(t, ok)
}
