package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/currency"
	"streamBot/internal/usecase/users"
	boterrors "streamBot/pkg/errors"
)

type recordingOut struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingOut) SendMessage(_ context.Context, _ domain.Platform, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

type recordingModerator struct {
	requests []domain.ModerationRequest
}

func (r *recordingModerator) Moderate(_ context.Context, req domain.ModerationRequest) error {
	r.requests = append(r.requests, req)
	return nil
}

type recordingSocial struct {
	posts []string
}

func (r *recordingSocial) Post(_ context.Context, text string) error {
	r.posts = append(r.posts, text)
	return nil
}

type recordingAlerts struct {
	alerts []domain.Alert
}

func (r *recordingAlerts) Alert(alert domain.Alert) {
	r.alerts = append(r.alerts, alert)
}

type recordingSpeech struct {
	texts []string
	by    []string
}

func (r *recordingSpeech) Speak(_ context.Context, text, _, requestedBy string, _ domain.Platform, _ string) error {
	r.texts = append(r.texts, text)
	r.by = append(r.by, requestedBy)
	return nil
}

type harness struct {
	exec      *Executor
	out       *recordingOut
	moderator *recordingModerator
	resolver  *users.Resolver
	ledger    *currency.Ledger
	counters  *Counters
	social    *recordingSocial
	alerts    *recordingAlerts
	speech    *recordingSpeech
}

func newHarness() *harness {
	h := &harness{
		out:       &recordingOut{},
		moderator: &recordingModerator{},
		resolver:  users.NewResolver(users.Config{Logger: zap.NewNop()}),
		counters:  NewCounters(nil),
		social:    &recordingSocial{},
		alerts:    &recordingAlerts{},
		speech:    &recordingSpeech{},
	}
	h.ledger = currency.NewLedger(nil, h.resolver, zap.NewNop())
	h.exec = NewExecutor(Config{
		Out:       h.out,
		Moderator: h.moderator,
		Users:     h.resolver,
		Wallet:    h.ledger,
		Counters:  h.counters,
		Speech:    h.speech,
		Alerts:    h.alerts,
		Social:    h.social,
		Logger:    zap.NewNop(),
	})
	return h
}

func (h *harness) context(username string, args ...string) *domain.ExecutionContext {
	user := h.resolver.Resolve(context.Background(), domain.PlatformTwitch, "id-"+username, username)
	return &domain.ExecutionContext{
		RunID:       "run",
		CommandName: "test",
		Platform:    domain.PlatformTwitch,
		ChannelID:   "chan",
		User:        user,
		Arguments:   args,
		Attributes:  map[string]string{},
	}
}

func TestMissingTargetDoesNotStopRun(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewChatAction("first"),
		domain.NewModerationAction(domain.ModerationTimeout, "@ghost"),
		domain.NewChatAction("third"),
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "third"}, h.out.sent)
	assert.Empty(t, h.moderator.requests)
}

func TestFailedActionIsIsolated(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewCurrencyAction("points", domain.CurrencyAdd, "not-a-number"),
		domain.NewChatAction("after"),
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, h.out.sent)
}

func TestAbortOnFailureStopsRun(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	failing := domain.NewCurrencyAction("points", domain.CurrencyAdd, "oops")
	failing.AbortOnFailure = true
	err := h.exec.Execute(context.Background(), []domain.Action{
		failing,
		domain.NewChatAction("never"),
	}, ec)

	var aerr *boterrors.ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Empty(t, h.out.sent)
}

func TestChatFailureIsLoggedAndSkipped(t *testing.T) {
	h := newHarness()
	h.out.err = errors.New("socket closed")
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewChatAction("lost"),
		domain.NewCounterAction("deaths", domain.CounterSet, "3"),
	}, ec)

	require.NoError(t, err)
	value, ok := h.counters.Value("deaths")
	require.True(t, ok)
	assert.Equal(t, 3.0, value)
}

func TestModerationReasonFlowsToLaterActions(t *testing.T) {
	h := newHarness()
	target := h.context("spammer")
	ec := h.context("mod", "@spammer")
	ec.TargetUser = nil

	timeout := domain.Action{Kind: domain.ActionModeration, Moderation: &domain.ModerationAction{
		Type:     domain.ModerationTimeout,
		Target:   "$arg1text",
		Duration: "60",
		Reason:   "spam de $targetusername",
	}}
	err := h.exec.Execute(context.Background(), []domain.Action{
		timeout,
		domain.NewChatAction("motivo: $moderationreason"),
	}, ec)

	require.NoError(t, err)
	require.Len(t, h.moderator.requests, 1)
	req := h.moderator.requests[0]
	assert.Equal(t, domain.ModerationTimeout, req.Type)
	assert.Equal(t, time.Minute, req.Duration)
	assert.Equal(t, "id-spammer", req.Target.ID)
	assert.Equal(t, "chan", req.ChannelID)
	assert.Equal(t, []string{"motivo: spam de spammer"}, h.out.sent)
	assert.Equal(t, int64(0), target.User.Counter(domain.CounterModerationStrikes))
}

func TestStrikes(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewModerationAction(domain.ModerationAddStrike, ""),
		domain.NewModerationAction(domain.ModerationAddStrike, ""),
		domain.NewModerationAction(domain.ModerationRemoveStrike, ""),
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, int64(1), ec.User.Counter(domain.CounterModerationStrikes))
}

func TestCurrencyOperations(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")
	bob := h.context("bob").User

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewCurrencyAction("points", domain.CurrencyAdd, "50"),
		domain.NewCurrencyAction("points", domain.CurrencySubtract, "20"),
		{Kind: domain.ActionCurrency, Currency: &domain.CurrencyAction{
			CurrencyID: "points", Operation: domain.CurrencySet, Amount: "7", Target: "bob",
		}},
		{Kind: domain.ActionCurrency, Currency: &domain.CurrencyAction{
			CurrencyID: "points", Operation: domain.CurrencySubtract, Amount: "100", Target: "@bob",
		}},
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, int64(30), ec.User.Balance("points"))
	assert.Equal(t, int64(0), bob.Balance("points"))
}

func TestCounterUpdateOnUnknownCounterIsNoop(t *testing.T) {
	h := newHarness()
	h.counters.Define("wins", 0)
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		domain.NewCounterAction("missing", domain.CounterUpdate, "1"),
		domain.NewCounterAction("wins", domain.CounterUpdate, "2"),
		domain.NewCounterAction("wins", domain.CounterUpdate, ""),
		domain.NewChatAction("victorias: $wins"),
	}, ec)

	require.NoError(t, err)
	_, ok := h.counters.Value("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"victorias: 3"}, h.out.sent)
}

func TestWaitHonorsCancellation(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.exec.Execute(ctx, []domain.Action{domain.NewWaitAction("10")}, ec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitParsesInterpolatedSeconds(t *testing.T) {
	h := newHarness()
	var slept time.Duration
	h.exec.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	ec := h.context("alice", "1.5")

	require.NoError(t, h.exec.Execute(context.Background(), []domain.Action{domain.NewWaitAction("$arg1text")}, ec))
	assert.Equal(t, 1500*time.Millisecond, slept)
}

func TestSocialRejectsMentions(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		{Kind: domain.ActionSocial, Social: &domain.SocialAction{Text: "gracias @$username"}},
		{Kind: domain.ActionSocial, Social: &domain.SocialAction{Text: "estamos en vivo"}},
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, []string{"estamos en vivo"}, h.social.posts)
	require.Len(t, h.out.sent, 1)
	assert.Contains(t, h.out.sent[0], "@menciones")
}

func TestSpeakAndOverlay(t *testing.T) {
	h := newHarness()
	ec := h.context("alice")

	err := h.exec.Execute(context.Background(), []domain.Action{
		{Kind: domain.ActionSpeak, Speak: &domain.SpeakAction{Text: "hola $userdisplayname"}},
		{Kind: domain.ActionOverlay, Overlay: &domain.OverlayAction{Text: "$username llegó", Duration: "5"}},
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, []string{"hola alice"}, h.speech.texts)
	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, "alice llegó", h.alerts.alerts[0].Text)
	assert.Equal(t, 5*time.Second, h.alerts.alerts[0].Duration)
	assert.Equal(t, domain.AlertOverlay, h.alerts.alerts[0].Type)
}

func TestMissingCollaboratorsAreSkipped(t *testing.T) {
	exec := NewExecutor(Config{Logger: zap.NewNop()})
	ec := &domain.ExecutionContext{Platform: domain.PlatformTrovo, Attributes: map[string]string{}}

	chat := domain.NewChatAction("hola")
	chat.AbortOnFailure = true
	err := exec.Execute(context.Background(), []domain.Action{
		chat,
		{Kind: domain.ActionSpeak, Speak: &domain.SpeakAction{Text: "hola"}},
	}, ec)
	assert.NoError(t, err)
}
