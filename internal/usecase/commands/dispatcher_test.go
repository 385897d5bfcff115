package commands

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
)

type fakeRunner struct {
	mu    sync.Mutex
	texts []string
	runs  []*domain.ExecutionContext
	err   error
	gate  chan struct{}
}

func (f *fakeRunner) Execute(_ context.Context, actions []domain.Action, ec *domain.ExecutionContext) error {
	for _, a := range actions {
		if a.Chat != nil && a.Chat.Text == "slow" && f.gate != nil {
			<-f.gate
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, ec)
	for _, a := range actions {
		if a.Chat != nil {
			f.texts = append(f.texts, a.Chat.Text)
		}
	}
	return f.err
}

func (f *fakeRunner) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeOut struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeOut) SendMessage(_ context.Context, _ domain.Platform, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeOut) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// manualTimer reemplaza time.AfterFunc para cerrar la ventana a mano.
type manualTimer struct {
	mu    sync.Mutex
	f     func()
	fired bool
}

func (m *manualTimer) schedule(_ time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.f, m.fired = f, false
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fired {
			return false
		}
		m.fired = true
		return true
	}
}

func (m *manualTimer) fire() {
	m.mu.Lock()
	f, already := m.f, m.fired
	m.fired = true
	m.mu.Unlock()
	if f != nil && !already {
		f()
	}
}

type fixture struct {
	d      *Dispatcher
	runner *fakeRunner
	out    *fakeOut
	ledger *currency.Ledger
	timer  *manualTimer
}

func newFixture(t *testing.T, queueSize int) *fixture {
	t.Helper()
	f := &fixture{
		runner: &fakeRunner{},
		out:    &fakeOut{},
		ledger: currency.NewLedger(nil, nil, zap.NewNop()),
		timer:  &manualTimer{},
	}
	f.d = NewDispatcher(DispatcherConfig{
		Runner:    f.runner,
		Wallet:    f.ledger,
		Out:       f.out,
		QueueSize: queueSize,
		Logger:    zap.NewNop(),
	})
	f.d.schedule = f.timer.schedule
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func (f *fixture) dispatch(t *testing.T, ev *domain.PlatformEvent, m Match) {
	t.Helper()
	done := make(chan struct{})
	f.d.Dispatch(context.Background(), ev, []Match{m}, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func viewer(id, name string, roles ...domain.CommandAccessRole) *domain.User {
	return domain.NewUser("user-"+id, domain.PlatformIdentity{
		Platform:    domain.PlatformTwitch,
		ID:          id,
		Username:    name,
		DisplayName: name,
		Roles:       roles,
	}, time.Now())
}

func chatEvent(user *domain.User) *domain.PlatformEvent {
	return &domain.PlatformEvent{
		ID:         "ev",
		Kind:       domain.EventChatMessage,
		Platform:   domain.PlatformTwitch,
		ChannelID:  "chan",
		ActingUser: user,
		Attributes: map[string]string{},
	}
}

func chatCommand(name string, actions ...domain.Action) *domain.CommandDefinition {
	return &domain.CommandDefinition{
		ID:       name,
		Name:     name,
		Type:     domain.CommandTypeChat,
		Enabled:  true,
		Triggers: []string{"!" + name},
		Actions:  actions,
	}
}

func TestDispatchRunsOneShotCommand(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := chatCommand("hola", domain.NewChatAction("hola $username"))
	f.dispatch(t, chatEvent(viewer("1", "Alice")), Match{Command: cmd, Args: []string{"a", "b"}, FromChat: true})

	require.Equal(t, []string{"hola $username"}, f.runner.Texts())
	ec := f.runner.runs[0]
	assert.Equal(t, "hola", ec.CommandName)
	assert.Equal(t, []string{"a", "b"}, ec.Arguments)
	assert.NotEmpty(t, ec.RunID)
}

func TestDispatchRejectsMissingRole(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := chatCommand("mods", domain.NewChatAction("secret"))
	cmd.Requirements.Role = domain.CommandAccessModerators
	f.dispatch(t, chatEvent(viewer("1", "Viewer")), Match{Command: cmd, FromChat: true})

	assert.Empty(t, f.runner.Texts())
	assert.Equal(t, []string{"@Viewer no tienes permiso para usar este comando"}, f.out.Sent())
}

func TestDispatchRejectsWithoutEnoughArguments(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := chatCommand("so", domain.NewChatAction("shoutout"))
	cmd.Requirements.MinArgs = 1
	f.dispatch(t, chatEvent(viewer("1", "Viewer")), Match{Command: cmd, FromChat: true})

	assert.Empty(t, f.runner.Texts())
	require.Len(t, f.out.Sent(), 1)
	assert.Contains(t, f.out.Sent()[0], "1 argumento")
}

func TestAbortedRunIsRefunded(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.err = errors.New("boom")
	f.start(t)

	user := viewer("1", "Payer")
	_, err := f.ledger.AddAmount(user, "points", 50)
	require.NoError(t, err)

	cmd := chatCommand("paid", domain.NewChatAction("x"))
	cmd.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}
	f.dispatch(t, chatEvent(user), Match{Command: cmd})

	assert.Equal(t, int64(50), user.Balance("points"))
}

func TestSuccessfulRunKeepsCharge(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	user := viewer("1", "Payer")
	_, err := f.ledger.AddAmount(user, "points", 50)
	require.NoError(t, err)

	cmd := chatCommand("paid", domain.NewChatAction("x"))
	cmd.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}
	f.dispatch(t, chatEvent(user), Match{Command: cmd})

	assert.Equal(t, int64(40), user.Balance("points"))
}

func TestInsufficientFundsIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	user := viewer("1", "Broke")
	_, err := f.ledger.AddAmount(user, "points", 5)
	require.NoError(t, err)

	cmd := chatCommand("paid", domain.NewChatAction("x"))
	cmd.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}
	f.dispatch(t, chatEvent(user), Match{Command: cmd, FromChat: true})

	assert.Empty(t, f.runner.Texts())
	assert.Equal(t, int64(5), user.Balance("points"))
	assert.Equal(t, []string{"@Broke no tienes suficiente points (10)"}, f.out.Sent())
}

func TestCooldownRejectsSecondRun(t *testing.T) {
	f := newFixture(t, 0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.d.now = func() time.Time { return now }
	f.start(t)

	cmd := chatCommand("cd", domain.NewChatAction("x"))
	cmd.Requirements.Cooldown = time.Minute
	f.dispatch(t, chatEvent(viewer("1", "A")), Match{Command: cmd, FromChat: true})
	f.dispatch(t, chatEvent(viewer("2", "B")), Match{Command: cmd, FromChat: true})

	assert.Len(t, f.runner.Texts(), 1)
	assert.Equal(t, []string{"@B el comando está en enfriamiento (60s)"}, f.out.Sent())

	now = now.Add(time.Minute)
	f.dispatch(t, chatEvent(viewer("2", "B")), Match{Command: cmd, FromChat: true})
	assert.Len(t, f.runner.Texts(), 2)
}

func TestPerUserCooldownIsIndependent(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := chatCommand("cd", domain.NewChatAction("x"))
	cmd.Requirements.Cooldown = time.Minute
	cmd.Requirements.CooldownScope = domain.CooldownPerUser
	f.dispatch(t, chatEvent(viewer("1", "A")), Match{Command: cmd})
	f.dispatch(t, chatEvent(viewer("2", "B")), Match{Command: cmd})
	f.dispatch(t, chatEvent(viewer("1", "A")), Match{Command: cmd})

	assert.Len(t, f.runner.Texts(), 2)
}

func TestSlowRunDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.gate = make(chan struct{})
	f.start(t)
	defer close(f.runner.gate)

	slowDone := make(chan struct{})
	f.d.Dispatch(context.Background(), chatEvent(viewer("1", "A")),
		[]Match{{Command: chatCommand("slow", domain.NewChatAction("slow"))}}, func() { close(slowDone) })

	f.dispatch(t, chatEvent(viewer("2", "B")), Match{Command: chatCommand("fast", domain.NewChatAction("fast"))})
	assert.Equal(t, []string{"fast"}, f.runner.Texts())

	select {
	case <-slowDone:
		t.Fatal("slow run finished before its gate opened")
	default:
	}
}

func TestFullQueueDropsAndRefunds(t *testing.T) {
	f := newFixture(t, 1)

	user := viewer("1", "Payer")
	_, err := f.ledger.AddAmount(user, "points", 30)
	require.NoError(t, err)

	cmd := chatCommand("paid", domain.NewChatAction("x"))
	cmd.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}

	queued := make(chan struct{})
	f.d.Dispatch(context.Background(), chatEvent(user), []Match{{Command: cmd}}, func() { close(queued) })
	assert.Equal(t, int64(20), user.Balance("points"))

	f.dispatch(t, chatEvent(user), Match{Command: cmd})
	assert.Equal(t, int64(20), user.Balance("points"))

	f.d.drain()
	<-queued
	assert.Equal(t, int64(30), user.Balance("points"))
}

func TestShutdownRefundsQueuedRuns(t *testing.T) {
	f := newFixture(t, 0)

	user := viewer("1", "Payer")
	_, err := f.ledger.AddAmount(user, "points", 30)
	require.NoError(t, err)

	cmd := chatCommand("paid", domain.NewChatAction("x"))
	cmd.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}

	done := make(chan struct{})
	f.d.Dispatch(context.Background(), chatEvent(user), []Match{{Command: cmd}}, func() { close(done) })
	assert.Equal(t, int64(20), user.Balance("points"))

	f.d.drain()
	<-done
	assert.Equal(t, int64(30), user.Balance("points"))
	assert.Empty(t, f.runner.Texts())
}

func gameCommand(minParticipants int, options ...string) *domain.CommandDefinition {
	return &domain.CommandDefinition{
		ID:       "roulette",
		Name:     "roulette",
		Type:     domain.CommandTypeGame,
		Enabled:  true,
		Triggers: []string{"!roulette"},
		Requirements: domain.Requirements{
			Cost: &domain.CurrencyCost{CurrencyID: "points", Amount: 10},
		},
		Game: &domain.GameSettings{
			Window:                  30 * time.Second,
			MinParticipants:         minParticipants,
			BetOptions:              options,
			PayoutMultiplier:        2,
			StartedActions:          []domain.Action{domain.NewChatAction("started")},
			UserJoinActions:         []domain.Action{domain.NewChatAction("joined")},
			NotEnoughPlayersActions: []domain.Action{domain.NewChatAction("not enough")},
			WinActions:              []domain.Action{domain.NewChatAction("win")},
			LoseActions:             []domain.Action{domain.NewChatAction("lose")},
			GameCompleteActions:     []domain.Action{domain.NewChatAction("complete")},
		},
	}
}

func funded(t *testing.T, ledger *currency.Ledger, id, name string) *domain.User {
	t.Helper()
	user := viewer(id, name)
	_, err := ledger.AddAmount(user, "points", 100)
	require.NoError(t, err)
	return user
}

func TestGameJoinsSingleArmedRunAndRefundsDuplicates(t *testing.T) {
	f := newFixture(t, 0)
	f.d.randIntn = func(int) int { return 1 }
	f.start(t)

	cmd := gameCommand(2)
	alice := funded(t, f.ledger, "1", "Alice")
	bob := funded(t, f.ledger, "2", "Bob")

	f.dispatch(t, chatEvent(alice), Match{Command: cmd, FromChat: true})
	assert.Equal(t, StateArmed, f.d.State(cmd.ID))

	f.dispatch(t, chatEvent(bob), Match{Command: cmd, FromChat: true})
	assert.Equal(t, StateArmed, f.d.State(cmd.ID))
	assert.Equal(t, 2, f.d.Participants(cmd.ID))

	f.dispatch(t, chatEvent(alice), Match{Command: cmd, FromChat: true})
	assert.Equal(t, 2, f.d.Participants(cmd.ID))
	assert.Equal(t, int64(90), alice.Balance("points"))
	assert.Equal(t, []string{"@Alice ya estás participando, el juego ya está en curso"}, f.out.Sent())

	f.timer.fire()

	assert.Equal(t, StateIdle, f.d.State(cmd.ID))
	assert.Equal(t, int64(90), alice.Balance("points"))
	assert.Equal(t, int64(110), bob.Balance("points"))
	assert.ElementsMatch(t, []string{"started", "joined", "joined", "lose", "win", "complete"}, f.runner.Texts())

	var complete *domain.ExecutionContext
	for _, ec := range f.runner.runs {
		if ec.Attributes[AttrWinners] != "" {
			complete = ec
		}
	}
	require.NotNil(t, complete)
	assert.Equal(t, "Bob", complete.Attributes[AttrWinners])
}

func TestGameWithBetsPaysMatchingBets(t *testing.T) {
	f := newFixture(t, 0)
	f.d.randIntn = func(int) int { return 0 }
	f.start(t)

	cmd := gameCommand(1, "red", "black")
	alice := funded(t, f.ledger, "1", "Alice")
	bob := funded(t, f.ledger, "2", "Bob")

	f.dispatch(t, chatEvent(alice), Match{Command: cmd, Args: []string{"RED"}})
	f.dispatch(t, chatEvent(bob), Match{Command: cmd, Args: []string{"black"}})
	f.timer.fire()

	assert.Equal(t, int64(110), alice.Balance("points"))
	assert.Equal(t, int64(90), bob.Balance("points"))
}

func TestGameRejectsInvalidBetWithoutCharging(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := gameCommand(1, "red", "black")
	alice := funded(t, f.ledger, "1", "Alice")
	f.dispatch(t, chatEvent(alice), Match{Command: cmd, Args: []string{"green"}, FromChat: true})

	assert.Equal(t, StateIdle, f.d.State(cmd.ID))
	assert.Equal(t, int64(100), alice.Balance("points"))
	assert.Equal(t, []string{"@Alice apuesta inválida, opciones: red, black"}, f.out.Sent())
}

func TestGameWithoutEnoughPlayersRefundsEveryone(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	cmd := gameCommand(3)
	alice := funded(t, f.ledger, "1", "Alice")
	bob := funded(t, f.ledger, "2", "Bob")
	f.dispatch(t, chatEvent(alice), Match{Command: cmd})
	f.dispatch(t, chatEvent(bob), Match{Command: cmd})
	f.timer.fire()

	assert.Equal(t, int64(100), alice.Balance("points"))
	assert.Equal(t, int64(100), bob.Balance("points"))
	assert.Contains(t, f.runner.Texts(), "not enough")
	assert.NotContains(t, f.runner.Texts(), "complete")
}

func TestGameCooldownRejectsAndRefunds(t *testing.T) {
	f := newFixture(t, 0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.d.now = func() time.Time { return now }
	f.d.randIntn = func(int) int { return 0 }
	f.start(t)

	cmd := gameCommand(1)
	cmd.Requirements.Cooldown = time.Minute
	alice := funded(t, f.ledger, "1", "Alice")
	bob := funded(t, f.ledger, "2", "Bob")

	f.dispatch(t, chatEvent(alice), Match{Command: cmd})
	f.timer.fire()
	assert.Equal(t, StateCooldown, f.d.State(cmd.ID))

	f.dispatch(t, chatEvent(bob), Match{Command: cmd, FromChat: true})
	assert.Equal(t, int64(100), bob.Balance("points"))
	assert.Equal(t, []string{"@Bob el juego está en enfriamiento (60s)"}, f.out.Sent())

	now = now.Add(time.Minute)
	assert.Equal(t, StateIdle, f.d.State(cmd.ID))
	f.dispatch(t, chatEvent(bob), Match{Command: cmd})
	assert.Equal(t, StateArmed, f.d.State(cmd.ID))
}

func TestShutdownRefundsArmedGame(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(stopped)
	}()

	cmd := gameCommand(2)
	alice := funded(t, f.ledger, "1", "Alice")
	f.dispatch(t, chatEvent(alice), Match{Command: cmd})
	assert.Equal(t, int64(90), alice.Balance("points"))

	cancel()
	<-stopped
	assert.Equal(t, int64(100), alice.Balance("points"))
	assert.Equal(t, StateIdle, f.d.State(cmd.ID))
}

func TestDispatchAfterShutdownIsRefundedAndArmsNothing(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	alice := funded(t, f.ledger, "1", "Alice")
	paid := chatCommand("paid", domain.NewChatAction("x"))
	paid.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}
	f.dispatch(t, chatEvent(alice), Match{Command: paid})
	assert.Equal(t, int64(100), alice.Balance("points"))

	game := gameCommand(1)
	f.dispatch(t, chatEvent(alice), Match{Command: game, FromChat: true})
	assert.Equal(t, int64(100), alice.Balance("points"))
	assert.Equal(t, StateIdle, f.d.State(game.ID))
	assert.Empty(t, f.runner.Texts())
	assert.Empty(t, f.out.Sent())
	assert.Empty(t, f.d.jobs)

	// ninguna ventana quedó pendiente.
	waited := make(chan struct{})
	go func() {
		f.d.resolving.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("a game window was armed after shutdown")
	}
}

func TestBusySlotsBackUpIntoQueueThenDrop(t *testing.T) {
	f := newFixture(t, 1)
	f.d.maxConcurrent = 1
	f.runner.gate = make(chan struct{})
	f.start(t)

	slow := chatCommand("slow", domain.NewChatAction("slow"))
	fast := chatCommand("fast", domain.NewChatAction("fast"))
	paid := chatCommand("paid", domain.NewChatAction("paid"))
	paid.Requirements.Cost = &domain.CurrencyCost{CurrencyID: "points", Amount: 10}
	payer := funded(t, f.ledger, "9", "Payer")

	var pending sync.WaitGroup
	dispatch := func(user *domain.User, cmd *domain.CommandDefinition) {
		pending.Add(1)
		f.d.Dispatch(context.Background(), chatEvent(user), []Match{{Command: cmd}}, pending.Done)
	}
	queueEmpty := func() bool { return len(f.d.jobs) == 0 }

	// el único lugar queda tomado por la corrida lenta.
	dispatch(viewer("1", "A"), slow)
	require.Eventually(t, queueEmpty, time.Second, 5*time.Millisecond)
	// el consumidor retiene la siguiente esperando lugar.
	dispatch(viewer("2", "B"), fast)
	require.Eventually(t, queueEmpty, time.Second, 5*time.Millisecond)
	// ésta ocupa la cola.
	dispatch(viewer("3", "C"), fast)
	assert.Len(t, f.d.jobs, 1)

	f.dispatch(t, chatEvent(payer), Match{Command: paid})
	assert.Equal(t, int64(100), payer.Balance("points"))

	close(f.runner.gate)
	pending.Wait()
	assert.ElementsMatch(t, []string{"slow", "fast", "fast"}, f.runner.Texts())
}

func TestPickBet(t *testing.T) {
	tests := []struct {
		name    string
		options []string
		args    []string
		want    string
		ok      bool
	}{
		{name: "no options", want: "", ok: true},
		{name: "match ignores case", options: []string{"Red", "Black"}, args: []string{"red"}, want: "Red", ok: true},
		{name: "missing bet", options: []string{"Red"}, ok: false},
		{name: "unknown bet", options: []string{"Red"}, args: []string{"green"}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickBet(&domain.GameSettings{BetOptions: tt.options}, tt.args)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
