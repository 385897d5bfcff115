package commands

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
)

const (
	defaultMaxConcurrent = 8
	defaultQueueSize     = 256
)

// ActionRunner ejecuta la lista de acciones de una corrida. Sólo devuelve error cuando la
// corrida se abortó por completo (acción con AbortOnFailure o contexto cancelado).
type ActionRunner interface {
	Execute(ctx context.Context, actions []domain.Action, ec *domain.ExecutionContext) error
}

// Wallet cobra y reembolsa los costos de los comandos.
type Wallet interface {
	Withdraw(user *domain.User, currencyID string, amount int64) error
	AddAmount(user *domain.User, currencyID string, amount int64) (int64, error)
}

type DispatcherConfig struct {
	Runner        ActionRunner
	Wallet        Wallet
	Out           domain.OutgoingMessagePort
	MaxConcurrent int
	QueueSize     int
	Logger        *zap.Logger
}

type charge struct {
	user *domain.User
	cost domain.CurrencyCost
}

type job struct {
	cmd     *domain.CommandDefinition
	actions []domain.Action
	ec      *domain.ExecutionContext
	charge  *charge
	finish  func()
}

// Dispatcher ejecuta los comandos encontrados en un pool acotado. Los comandos simples pueden
// correr en paralelo; los juegos admiten una sola instancia armada o en curso por comando.
type Dispatcher struct {
	runner        ActionRunner
	wallet        Wallet
	out           domain.OutgoingMessagePort
	logger        *zap.Logger
	maxConcurrent int
	jobs          chan job

	now      func() time.Time
	randIntn func(n int) int
	schedule func(d time.Duration, f func()) (stop func() bool)

	mu        sync.Mutex
	baseCtx   context.Context
	cooldowns map[string]time.Time
	games     map[string]*gameRun
	resolving sync.WaitGroup

	// closed se marca al apagar; desde ahí no se encola ni se arma nada.
	closed bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		runner:        cfg.Runner,
		wallet:        cfg.Wallet,
		out:           cfg.Out,
		logger:        util.OrNop(cfg.Logger),
		maxConcurrent: maxConcurrent,
		jobs:          make(chan job, queueSize),
		now:           time.Now,
		randIntn:      rand.IntN,
		schedule: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		baseCtx:   context.Background(),
		cooldowns: make(map[string]time.Time),
		games:     make(map[string]*gameRun),
	}
}

// Run consume la cola hasta que ctx se cancela. Lo que quedó sin ejecutar se reembolsa.
//
// Una corrida ocupa su lugar del pool mientras espera (acciones Wait incluidas). Con los
// maxConcurrent lugares ocupados el consumo se frena, la cola se llena y enqueue descarta y
// reembolsa: ese es el límite de carga.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.baseCtx = ctx
	d.closed = false
	d.mu.Unlock()

	p := pool.New().WithMaxGoroutines(d.maxConcurrent)
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.abortArmedGames()
			d.resolving.Wait()
			p.Wait()
			d.drain()
			return nil
		case j := <-d.jobs:
			p.Go(func() { d.execute(ctx, j) })
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.jobs:
			d.refund(j.charge)
			telemetry.IncCommandRun("cancelled")
			j.finish()
		default:
			return
		}
	}
}

func (d *Dispatcher) baseContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseCtx
}

// Dispatch evalúa requisitos, cobra y encola cada comando. No espera a que terminen: done se
// llama una sola vez cuando todas las corridas del evento finalizaron (o fueron rechazadas).
func (d *Dispatcher) Dispatch(ctx context.Context, ev *domain.PlatformEvent, matches []Match, done func()) {
	var pending atomic.Int32
	pending.Store(int32(len(matches) + 1))
	finish := func() {
		if pending.Add(-1) == 0 && done != nil {
			done()
		}
	}

	for _, m := range matches {
		d.dispatchOne(ctx, ev, m, finish)
	}
	finish()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev *domain.PlatformEvent, m Match, finish func()) {
	cmd := m.Command
	if cmd == nil || !cmd.Enabled || !cmd.SupportsPlatform(ev.Platform) {
		finish()
		return
	}

	if reason := d.checkRequirements(ev, m); reason != "" {
		d.reject(ctx, ev, m, reason)
		finish()
		return
	}

	var bet string
	if cmd.IsGame() {
		var ok bool
		if bet, ok = pickBet(cmd.Game, m.Args); !ok {
			d.reject(ctx, ev, m, fmt.Sprintf("apuesta inválida, opciones: %s", joinOptions(cmd.Game.BetOptions)))
			finish()
			return
		}
	}

	ch, reason := d.collect(cmd, ev.ActingUser)
	if reason != "" {
		d.reject(ctx, ev, m, reason)
		finish()
		return
	}

	if cmd.IsGame() {
		d.join(ctx, ev, m, bet, ch, finish)
		return
	}

	d.startCooldown(cmd, ev.ActingUser)
	ec := newRunContext(cmd, ev, m.Args)
	d.enqueue(job{cmd: cmd, actions: cmd.Actions, ec: ec, charge: ch, finish: finish})
}

func newRunContext(cmd *domain.CommandDefinition, ev *domain.PlatformEvent, args []string) *domain.ExecutionContext {
	ec := domain.NewExecutionContext(cmd, ev, args)
	ec.RunID = uuid.NewString()
	return ec
}

func (d *Dispatcher) checkRequirements(ev *domain.PlatformEvent, m Match) string {
	req := m.Command.Requirements
	user := ev.ActingUser

	if req.Role != "" && (user == nil || !user.MeetsRole(ev.Platform, req.Role)) {
		return "no tienes permiso para usar este comando"
	}
	if req.MinArgs > 0 && len(m.Args) < req.MinArgs {
		return fmt.Sprintf("este comando necesita %d argumento(s)", req.MinArgs)
	}
	if !m.Command.IsGame() {
		if remaining := d.cooldownRemaining(m.Command, user); remaining > 0 {
			return fmt.Sprintf("el comando está en enfriamiento (%ds)", int(remaining.Round(time.Second).Seconds()))
		}
	}
	return ""
}

func cooldownKey(cmd *domain.CommandDefinition, user *domain.User) string {
	if cmd.Requirements.CooldownScope == domain.CooldownPerUser && user != nil {
		return cmd.ID + "|" + participantKey(user)
	}
	return cmd.ID
}

func (d *Dispatcher) cooldownRemaining(cmd *domain.CommandDefinition, user *domain.User) time.Duration {
	if cmd.Requirements.Cooldown <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.cooldowns[cooldownKey(cmd, user)]
	if !ok {
		return 0
	}
	return until.Sub(d.now())
}

func (d *Dispatcher) startCooldown(cmd *domain.CommandDefinition, user *domain.User) {
	if cmd.Requirements.Cooldown <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldowns[cooldownKey(cmd, user)] = d.now().Add(cmd.Requirements.Cooldown)
}

func (d *Dispatcher) collect(cmd *domain.CommandDefinition, user *domain.User) (*charge, string) {
	cost := cmd.Requirements.Cost
	if cost == nil || cost.Amount <= 0 || d.wallet == nil {
		return nil, ""
	}
	err := d.wallet.Withdraw(user, cost.CurrencyID, cost.Amount)
	switch {
	case err == nil:
		return &charge{user: user, cost: *cost}, ""
	case errors.Is(err, domain.ErrInsufficientFunds):
		return nil, fmt.Sprintf("no tienes suficiente %s (%d)", cost.CurrencyID, cost.Amount)
	case errors.Is(err, domain.ErrUnassociatedUser):
		return nil, "no se pudo identificar al usuario"
	default:
		d.logger.Warn("dispatcher: charge failed", zap.String("command", cmd.Name), zap.Error(err))
		return nil, "no se pudo cobrar el comando"
	}
}

func (d *Dispatcher) refund(ch *charge) {
	if ch == nil || d.wallet == nil {
		return
	}
	if _, err := d.wallet.AddAmount(ch.user, ch.cost.CurrencyID, ch.cost.Amount); err != nil {
		d.logger.Error("dispatcher: refund failed",
			zap.String("user", ch.user.ID()),
			zap.String("currency", ch.cost.CurrencyID),
			zap.Int64("amount", ch.cost.Amount),
			zap.Error(err),
		)
		return
	}
	telemetry.IncRefund()
}

func (d *Dispatcher) reject(ctx context.Context, ev *domain.PlatformEvent, m Match, reason string) {
	telemetry.IncCommandRun("rejected")
	d.logger.Debug("dispatcher: rejected",
		zap.String("command", m.Command.Name),
		zap.String("platform", string(ev.Platform)),
		zap.String("reason", reason),
	)
	if !m.FromChat || d.out == nil {
		return
	}
	name := domain.AnonymousUsername
	if ev.ActingUser != nil {
		name = ev.ActingUser.DisplayName(ev.Platform)
	}
	if err := d.out.SendMessage(ctx, ev.Platform, ev.ChannelID, fmt.Sprintf("@%s %s", name, reason)); err != nil {
		d.logger.Warn("dispatcher: reply failed", zap.Error(err))
	}
}

// enqueue nunca bloquea: con la cola llena o ya apagando, la corrida se descarta y se reembolsa.
func (d *Dispatcher) enqueue(j job) {
	if j.finish == nil {
		j.finish = func() {}
	}
	d.mu.Lock()
	queued, closed := false, d.closed
	if !closed {
		select {
		case d.jobs <- j:
			queued = true
		default:
		}
	}
	d.mu.Unlock()

	switch {
	case queued:
		return
	case closed:
		d.logger.Debug("dispatcher: shutting down, run cancelled", zap.String("command", j.cmd.Name))
		telemetry.IncCommandRun("cancelled")
	default:
		d.logger.Warn("dispatcher: queue full, run dropped", zap.String("command", j.cmd.Name))
		telemetry.IncCommandRun("dropped")
	}
	d.refund(j.charge)
	j.finish()
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	telemetry.AddActiveRuns(1)
	defer telemetry.AddActiveRuns(-1)
	defer j.finish()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher: run panicked", zap.String("command", j.cmd.Name), zap.Any("panic", r))
			telemetry.IncCommandRun("panicked")
			d.refund(j.charge)
		}
	}()

	if err := d.runActions(ctx, j.actions, j.ec); err != nil {
		d.logger.Warn("dispatcher: run aborted",
			zap.String("command", j.cmd.Name),
			zap.String("run", j.ec.RunID),
			zap.Error(err),
		)
		telemetry.IncCommandRun("aborted")
		d.refund(j.charge)
		return
	}
	telemetry.IncCommandRun("completed")
}

func (d *Dispatcher) runActions(ctx context.Context, actions []domain.Action, ec *domain.ExecutionContext) error {
	if len(actions) == 0 || d.runner == nil {
		return nil
	}
	return d.runner.Execute(ctx, actions, ec)
}
