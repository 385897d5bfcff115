package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/currency"
	"streamBot/internal/usecase/moderation"
)

func newUser(id, name string, roles ...domain.CommandAccessRole) *domain.User {
	return domain.NewUser(id, domain.PlatformIdentity{Platform: domain.PlatformTwitch, ID: id, Username: name, Roles: roles}, time.Now())
}

func event(kind domain.EventKind, user *domain.User, attrs map[string]string) *domain.PlatformEvent {
	return &domain.PlatformEvent{Kind: kind, Platform: domain.PlatformTwitch, ActingUser: user, Attributes: attrs}
}

func TestFollowQuotaThrottlesInFlightEvents(t *testing.T) {
	gate, err := New(Config{Quotas: map[domain.EventKind]int{domain.EventFollow: 2}, Logger: zap.NewNop()})
	require.NoError(t, err)

	first, ok := gate.CanAdmit(event(domain.EventFollow, newUser("1", "a"), nil))
	require.True(t, ok)
	second, ok := gate.CanAdmit(event(domain.EventFollow, newUser("2", "b"), nil))
	require.True(t, ok)

	_, ok = gate.CanAdmit(event(domain.EventFollow, newUser("3", "c"), nil))
	assert.False(t, ok)
	assert.Equal(t, 2, gate.InFlight(domain.EventFollow))

	first.Release()
	first.Release()
	assert.Equal(t, 1, gate.InFlight(domain.EventFollow))

	_, ok = gate.CanAdmit(event(domain.EventFollow, newUser("4", "d"), nil))
	assert.True(t, ok)
	second.Release()
}

func TestFollowAndRaidOncePerSession(t *testing.T) {
	gate, err := New(Config{Logger: zap.NewNop()})
	require.NoError(t, err)
	user := newUser("1", "repeat")

	_, ok := gate.CanAdmit(event(domain.EventFollow, user, nil))
	assert.True(t, ok)
	_, ok = gate.CanAdmit(event(domain.EventFollow, user, nil))
	assert.False(t, ok)

	_, ok = gate.CanAdmit(event(domain.EventRaided, user, nil))
	assert.True(t, ok)

	_, ok = gate.CanAdmit(event(domain.EventChatMessage, user, nil))
	assert.True(t, ok)
	_, ok = gate.CanAdmit(event(domain.EventChatMessage, user, nil))
	assert.True(t, ok)
}

func TestRepeatedFollowReleasesQuota(t *testing.T) {
	gate, err := New(Config{Quotas: map[domain.EventKind]int{domain.EventFollow: 1}, Logger: zap.NewNop()})
	require.NoError(t, err)
	user := newUser("1", "repeat")

	ticket, ok := gate.CanAdmit(event(domain.EventFollow, user, nil))
	require.True(t, ok)
	ticket.Release()

	_, ok = gate.CanAdmit(event(domain.EventFollow, user, nil))
	assert.False(t, ok)
	assert.Equal(t, 0, gate.InFlight(domain.EventFollow))
}

func TestBannedUsersAreDenied(t *testing.T) {
	gate, err := New(Config{Logger: zap.NewNop()})
	require.NoError(t, err)

	_, ok := gate.CanAdmit(event(domain.EventChatMessage, newUser("1", "troll", domain.RoleBanned), nil))
	assert.False(t, ok)
}

func TestModeratedBitsStillAwardCurrency(t *testing.T) {
	ledger := currency.NewLedger(nil, nil, zap.NewNop())
	require.NoError(t, ledger.UpsertCurrency(domain.Currency{ID: "bits", TracksBits: true}))
	filter := moderation.NewFilter(moderation.Config{BannedWords: []string{"slur"}})

	gate, err := New(Config{Moderation: filter, Awards: ledger, Logger: zap.NewNop()})
	require.NoError(t, err)

	user := newUser("1", "cheerer")
	ev := event(domain.EventBitsCheered, user, map[string]string{
		domain.AttrBitsAmount: "100",
		domain.AttrMessage:    "cheer100 slur",
	})

	_, ok := gate.CanAdmit(ev)
	require.True(t, ok)
	assert.False(t, gate.Admit(context.Background(), ev))
	assert.Equal(t, int64(100), user.Balance("bits"))
	assert.Equal(t, moderation.ReasonBannedWord, ev.Attr(domain.AttrModerationReason))
}

func TestScreenIgnoresKindsWithoutText(t *testing.T) {
	filter := moderation.NewFilter(moderation.Config{BannedWords: []string{"slur"}})
	gate, err := New(Config{Moderation: filter, Logger: zap.NewNop()})
	require.NoError(t, err)

	ev := event(domain.EventRaided, newUser("1", "raider"), map[string]string{domain.AttrMessage: "slur"})
	assert.True(t, gate.Screen(context.Background(), ev))
}
