package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/actions"
	"streamBot/internal/usecase/admission"
	"streamBot/internal/usecase/commands"
	"streamBot/internal/usecase/currency"
	"streamBot/internal/usecase/giftsubs"
	"streamBot/internal/usecase/ingest"
	"streamBot/internal/usecase/moderation"
	"streamBot/internal/usecase/notifications"
	"streamBot/internal/usecase/users"
)

type chatOut struct {
	mu   sync.Mutex
	sent []string
}

func (c *chatOut) SendMessage(_ context.Context, _ domain.Platform, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *chatOut) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type eventLog struct {
	mu     sync.Mutex
	events []*domain.PlatformEvent
	alerts []domain.Alert
}

func (e *eventLog) PublishEvent(ev *domain.PlatformEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) Alert(alert domain.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, alert)
}

type stack struct {
	interactor *Interactor
	resolver   *users.Resolver
	manager    *commands.Manager
	reconciler *giftsubs.Reconciler
	out        *chatOut
	log        *eventLog
}

func newStack(t *testing.T, giftThreshold int) *stack {
	t.Helper()
	logger := zap.NewNop()
	s := &stack{out: &chatOut{}, log: &eventLog{}}

	s.resolver = users.NewResolver(users.Config{Logger: logger})
	dedup, err := ingest.NewLRUDeduper(0)
	require.NoError(t, err)

	ledger := currency.NewLedger(nil, s.resolver, logger)
	require.NoError(t, ledger.UpsertCurrency(domain.Currency{ID: "points", OnSubscribeBonus: 100}))

	gate, err := admission.New(admission.Config{
		Awards:     ledger,
		Moderation: moderation.NewFilter(moderation.Config{BannedWords: []string{"slur"}, Logger: logger}),
		Logger:     logger,
	})
	require.NoError(t, err)

	s.manager = commands.NewManager(nil)
	executor := actions.NewExecutor(actions.Config{Out: s.out, Users: s.resolver, Wallet: ledger, Logger: logger})
	dispatcher := commands.NewDispatcher(commands.DispatcherConfig{Runner: executor, Wallet: ledger, Out: s.out, Logger: logger})

	s.interactor = NewInteractor(Config{
		Normalizer: ingest.NewNormalizer(s.resolver, dedup, logger),
		Gate:       gate,
		Matcher:    s.manager,
		Dispatcher: dispatcher,
		Notifier:   notifications.NewEventLogger(s.log, logger),
		Sink:       s.log,
		Logger:     logger,
	})
	s.reconciler = giftsubs.New(giftsubs.Config{
		Threshold: giftThreshold,
		Interval:  20 * time.Millisecond,
		Handler:   s.interactor,
		Logger:    logger,
	})
	s.interactor.SetGiftBuffer(s.reconciler)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = dispatcher.Run(ctx) }()
	go func() { defer wg.Done(); _ = s.reconciler.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return s
}

func (s *stack) command(t *testing.T, cmd *domain.CommandDefinition) {
	t.Helper()
	cmd.Enabled = true
	_, _, err := s.manager.Upsert(context.Background(), cmd)
	require.NoError(t, err)
}

func eventCommand(name string, kind domain.EventKind, text string) *domain.CommandDefinition {
	return &domain.CommandDefinition{
		Name:    name,
		Type:    domain.CommandTypeEvent,
		Event:   &domain.EventTrigger{Kind: kind, Platform: domain.PlatformTwitch},
		Actions: []domain.Action{domain.NewChatAction(text)},
	}
}

func notice(id, msgID string, sender domain.RawUser, tags map[string]string) domain.RawEvent {
	all := map[string]string{"msg-id": msgID}
	for k, v := range tags {
		all[k] = v
	}
	return domain.RawEvent{
		Platform:  domain.PlatformTwitch,
		ID:        id,
		Type:      ingest.TwitchTypeUserNotice,
		ChannelID: "chan",
		Sender:    sender,
		Tags:      all,
	}
}

func TestNewSubscriberEndToEnd(t *testing.T) {
	s := newStack(t, 0)
	s.command(t, eventCommand("sub thanks", domain.EventSubscribe, "Gracias $userdisplayname por tu $usersubplanname"))

	raw := notice("sub-1", "sub", domain.RawUser{ID: "501", Username: "alice", DisplayName: "Alice"},
		map[string]string{"msg-param-sub-plan": "1000"})
	require.NoError(t, s.interactor.Handle(context.Background(), raw))
	require.NoError(t, s.interactor.Handle(context.Background(), raw))

	assert.Equal(t, 1, s.resolver.Count())
	alice := s.resolver.FindByPlatformID(domain.PlatformTwitch, "501")
	require.NotNil(t, alice)
	assert.Equal(t, int64(100), alice.Balance("points"))

	require.Eventually(t, func() bool { return len(s.out.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Gracias Alice por tu Tier 1", s.out.Sent()[0])

	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	require.Len(t, s.log.alerts, 1)
	assert.Equal(t, "Alice Subscribed (Tier 1)", s.log.alerts[0].Text)
}

func TestModeratedChatIsShownButDoesNotRunCommands(t *testing.T) {
	s := newStack(t, 0)
	s.command(t, &domain.CommandDefinition{
		Name:     "hola",
		Type:     domain.CommandTypeChat,
		Triggers: []string{"!hola"},
		Actions:  []domain.Action{domain.NewChatAction("hola $username")},
	})

	sender := domain.RawUser{ID: "7", Username: "bob"}
	require.NoError(t, s.interactor.Handle(context.Background(), domain.RawEvent{
		Platform: domain.PlatformTwitch, ID: "m1", Type: ingest.TwitchTypePrivmsg, Sender: sender, Text: "!hola slur",
	}))
	require.NoError(t, s.interactor.Handle(context.Background(), domain.RawEvent{
		Platform: domain.PlatformTwitch, ID: "m2", Type: ingest.TwitchTypePrivmsg, Sender: sender, Text: "!hola amigos",
	}))

	require.Eventually(t, func() bool { return len(s.out.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hola bob", s.out.Sent()[0])

	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	require.Len(t, s.log.events, 2)
	assert.Equal(t, moderation.ReasonBannedWord, s.log.events[0].Attr(domain.AttrModerationReason))
}

func TestMassGiftFiresOnceAndBatchedGiftsStayQuiet(t *testing.T) {
	s := newStack(t, 2)
	s.command(t, eventCommand("mass", domain.EventMassSubscriptionsGifted, "mass $subsgiftedamount $allargs"))
	s.command(t, eventCommand("single", domain.EventSubscriptionGifted, "single $targetusername"))

	gifter := domain.RawUser{ID: "900", Username: "santa", DisplayName: "Santa"}
	ctx := context.Background()
	require.NoError(t, s.interactor.Handle(ctx, notice("mass-1", "submysterygift", gifter,
		map[string]string{"msg-param-mass-gift-count": "3", "msg-param-sender-count": "40"})))
	for i, name := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.interactor.Handle(ctx, notice("gift-"+name, "subgift", gifter, map[string]string{
			"msg-param-recipient-id":        string(rune('a' + i)),
			"msg-param-recipient-user-name": name,
		})))
	}

	require.Eventually(t, func() bool { return len(s.out.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "mass 3 r1 r2 r3", s.out.Sent()[0])

	santa := s.resolver.FindByPlatformID(domain.PlatformTwitch, "900")
	require.NotNil(t, santa)
	assert.Equal(t, int64(40), santa.Counter(domain.CounterSubsGifted))
	receiver := s.resolver.FindByUsername(domain.PlatformTwitch, "r2")
	require.NotNil(t, receiver)
	assert.Equal(t, int64(1), receiver.Counter(domain.CounterSubsReceived))
}

func TestSmallMassGiftFiresIndividualGifts(t *testing.T) {
	s := newStack(t, 5)
	s.command(t, eventCommand("mass", domain.EventMassSubscriptionsGifted, "mass"))
	s.command(t, eventCommand("single", domain.EventSubscriptionGifted, "single $targetusername"))

	gifter := domain.RawUser{ID: "901", Username: "elf"}
	ctx := context.Background()
	require.NoError(t, s.interactor.Handle(ctx, notice("mass-2", "submysterygift", gifter,
		map[string]string{"msg-param-mass-gift-count": "1"})))
	require.NoError(t, s.interactor.Handle(ctx, notice("gift-x", "subgift", gifter, map[string]string{
		"msg-param-recipient-id":        "x1",
		"msg-param-recipient-user-name": "lucky",
	})))

	require.Eventually(t, func() bool { return len(s.out.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "single lucky", s.out.Sent()[0])

	elf := s.resolver.FindByPlatformID(domain.PlatformTwitch, "901")
	require.NotNil(t, elf)
	assert.Equal(t, int64(1), elf.Counter(domain.CounterSubsGifted))
}

func TestFollowGrantsFollowerRole(t *testing.T) {
	s := newStack(t, 0)
	s.command(t, &domain.CommandDefinition{
		Name:     "fans",
		Type:     domain.CommandTypeChat,
		Triggers: []string{"!fans"},
		Actions:  []domain.Action{domain.NewChatAction("solo seguidores")},
		Requirements: domain.Requirements{
			Role: domain.CommandAccessFollowers,
		},
	})
	ctx := context.Background()
	sender := domain.RawUser{ID: "3", Username: "carol"}

	require.NoError(t, s.interactor.Handle(ctx, domain.RawEvent{
		Platform: domain.PlatformGlimesh, ID: "f1", Type: ingest.GlimeshTypeFollow, Sender: sender,
	}))
	require.NoError(t, s.interactor.Handle(ctx, domain.RawEvent{
		Platform: domain.PlatformGlimesh, ID: "c1", Type: ingest.GlimeshTypeChat, Sender: sender, Text: "!fans",
	}))

	require.Eventually(t, func() bool { return len(s.out.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "solo seguidores", s.out.Sent()[0])
}
