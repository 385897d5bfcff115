package commands

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
)

// Atributos que reciben las acciones de un juego.
const (
	AttrGameBet    = "bet"
	AttrGamePayout = "payout"
	AttrWinningBet = "winningbet"
	AttrWinners    = "winners"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

type participant struct {
	user   *domain.User
	bet    string
	ev     *domain.PlatformEvent
	args   []string
	charge *charge
}

// gameRun es la única instancia viva de un juego; se protege con d.mu.
type gameRun struct {
	cmd           *domain.CommandDefinition
	state         State
	participants  []participant
	joined        map[string]struct{}
	cooldownUntil time.Time
	stop          func() bool
}

type joinOutcome int

const (
	joinStarted joinOutcome = iota
	joinAdded
	joinDuplicate
	joinUnderway
	joinCoolingDown
	joinClosed
)

// join suma al usuario a la ventana abierta o arma una nueva. Si no puede participar, se le
// devuelve lo cobrado antes de contestar.
func (d *Dispatcher) join(ctx context.Context, ev *domain.PlatformEvent, m Match, bet string, ch *charge, finish func()) {
	cmd := m.Command
	key := participantKey(ev.ActingUser)
	p := participant{user: ev.ActingUser, bet: bet, ev: ev, args: m.Args, charge: ch}

	d.mu.Lock()
	now := d.now()
	run := d.games[cmd.ID]
	if run != nil && run.state == StateCooldown && !now.Before(run.cooldownUntil) {
		delete(d.games, cmd.ID)
		run = nil
	}

	var (
		outcome   joinOutcome
		remaining time.Duration
	)
	switch {
	case d.closed:
		outcome = joinClosed
	case run == nil:
		run = &gameRun{cmd: cmd, state: StateArmed, joined: make(map[string]struct{})}
		run.participants = append(run.participants, p)
		run.joined[key] = struct{}{}
		d.games[cmd.ID] = run
		d.resolving.Add(1)
		run.stop = d.schedule(cmd.Game.Window, func() { d.closeWindow(cmd.ID, run) })
		outcome = joinStarted
	case run.state == StateArmed:
		if _, dup := run.joined[key]; dup {
			outcome = joinDuplicate
			break
		}
		run.participants = append(run.participants, p)
		run.joined[key] = struct{}{}
		outcome = joinAdded
	case run.state == StateRunning:
		outcome = joinUnderway
	default:
		outcome = joinCoolingDown
		remaining = run.cooldownUntil.Sub(now)
	}
	d.mu.Unlock()

	switch outcome {
	case joinStarted:
		d.logger.Debug("dispatcher: game armed",
			zap.String("command", cmd.Name),
			zap.Duration("window", cmd.Game.Window),
		)
		ec := d.participantContext(cmd, p)
		actions := append(append([]domain.Action(nil), cmd.Game.StartedActions...), cmd.Game.UserJoinActions...)
		d.enqueue(job{cmd: cmd, actions: actions, ec: ec, finish: finish})
	case joinAdded:
		d.enqueue(job{cmd: cmd, actions: cmd.Game.UserJoinActions, ec: d.participantContext(cmd, p), finish: finish})
	case joinDuplicate:
		d.refund(ch)
		d.reject(ctx, ev, m, "ya estás participando, el juego ya está en curso")
		finish()
	case joinUnderway:
		d.refund(ch)
		d.reject(ctx, ev, m, "el juego ya está en curso")
		finish()
	case joinClosed:
		d.refund(ch)
		telemetry.IncCommandRun("cancelled")
		finish()
	default:
		d.refund(ch)
		d.reject(ctx, ev, m, fmt.Sprintf("el juego está en enfriamiento (%ds)", int(remaining.Round(time.Second).Seconds())))
		finish()
	}
}

func (d *Dispatcher) participantContext(cmd *domain.CommandDefinition, p participant) *domain.ExecutionContext {
	ec := newRunContext(cmd, p.ev, p.args)
	ec.Attributes[AttrGameBet] = p.bet
	return ec
}

// closeWindow corre al vencer la ventana: Armed -> Running -> Cooldown (o Idle sin enfriamiento).
func (d *Dispatcher) closeWindow(cmdID string, run *gameRun) {
	defer d.resolving.Done()

	d.mu.Lock()
	if d.games[cmdID] != run || run.state != StateArmed {
		d.mu.Unlock()
		return
	}
	run.state = StateRunning
	participants := append([]participant(nil), run.participants...)
	d.mu.Unlock()

	telemetry.AddActiveRuns(1)
	d.resolveGame(d.baseContext(), run.cmd, participants)
	telemetry.AddActiveRuns(-1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if cooldown := run.cmd.Requirements.Cooldown; cooldown > 0 {
		run.state = StateCooldown
		run.cooldownUntil = d.now().Add(cooldown)
		return
	}
	if d.games[cmdID] == run {
		delete(d.games, cmdID)
	}
}

func (d *Dispatcher) resolveGame(ctx context.Context, cmd *domain.CommandDefinition, participants []participant) {
	game := cmd.Game
	if len(participants) == 0 {
		return
	}
	starter := d.participantContext(cmd, participants[0])

	if len(participants) < game.MinParticipants {
		d.logger.Info("dispatcher: not enough players",
			zap.String("command", cmd.Name),
			zap.Int("joined", len(participants)),
			zap.Int("required", game.MinParticipants),
		)
		d.runOutcome(ctx, cmd, game.NotEnoughPlayersActions, starter)
		for _, p := range participants {
			d.refund(p.charge)
		}
		telemetry.IncCommandRun("not_enough_players")
		return
	}

	winningBet, winnerIndex := "", -1
	if len(game.BetOptions) > 0 {
		winningBet = game.BetOptions[d.randIntn(len(game.BetOptions))]
	} else {
		winnerIndex = d.randIntn(len(participants))
	}

	var winners []string
	for i, p := range participants {
		ec := d.participantContext(cmd, p)
		ec.Attributes[AttrWinningBet] = winningBet

		won := i == winnerIndex || (winnerIndex < 0 && strings.EqualFold(p.bet, winningBet))
		if !won {
			d.runOutcome(ctx, cmd, game.LoseActions, ec)
			continue
		}

		payout := d.payout(cmd, p)
		ec.Attributes[AttrGamePayout] = fmt.Sprint(payout)
		winners = append(winners, p.user.DisplayName(p.ev.Platform))
		d.runOutcome(ctx, cmd, game.WinActions, ec)
	}

	starter.Attributes[AttrWinningBet] = winningBet
	starter.Attributes[AttrWinners] = strings.Join(winners, ", ")
	d.runOutcome(ctx, cmd, game.GameCompleteActions, starter)
	telemetry.IncCommandRun("completed")
}

func (d *Dispatcher) payout(cmd *domain.CommandDefinition, p participant) int64 {
	if p.charge == nil || d.wallet == nil {
		return 0
	}
	amount := int64(math.Round(float64(p.charge.cost.Amount) * cmd.Game.PayoutMultiplier))
	if amount <= 0 {
		return 0
	}
	if _, err := d.wallet.AddAmount(p.user, p.charge.cost.CurrencyID, amount); err != nil {
		d.logger.Error("dispatcher: payout failed",
			zap.String("command", cmd.Name),
			zap.String("user", p.user.ID()),
			zap.Error(err),
		)
		return 0
	}
	return amount
}

func (d *Dispatcher) runOutcome(ctx context.Context, cmd *domain.CommandDefinition, actions []domain.Action, ec *domain.ExecutionContext) {
	if err := d.runActions(ctx, actions, ec); err != nil {
		d.logger.Warn("dispatcher: game actions aborted",
			zap.String("command", cmd.Name),
			zap.String("run", ec.RunID),
			zap.Error(err),
		)
	}
}

// abortArmedGames cancela las ventanas abiertas y devuelve lo cobrado a cada participante.
func (d *Dispatcher) abortArmedGames() {
	var refunds []*charge

	d.mu.Lock()
	for id, run := range d.games {
		if run.state != StateArmed {
			continue
		}
		if run.stop != nil && run.stop() {
			d.resolving.Done()
		}
		for _, p := range run.participants {
			refunds = append(refunds, p.charge)
		}
		delete(d.games, id)
	}
	d.mu.Unlock()

	for _, ch := range refunds {
		d.refund(ch)
	}
}

// State devuelve el estado actual del juego; un enfriamiento vencido cuenta como Idle.
func (d *Dispatcher) State(cmdID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	run, ok := d.games[cmdID]
	if !ok {
		return StateIdle
	}
	if run.state == StateCooldown && !d.now().Before(run.cooldownUntil) {
		return StateIdle
	}
	return run.state
}

func (d *Dispatcher) Participants(cmdID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if run, ok := d.games[cmdID]; ok {
		return len(run.participants)
	}
	return 0
}

// pickBet toma la apuesta del primer argumento. Un juego sin opciones no requiere apuesta.
func pickBet(game *domain.GameSettings, args []string) (string, bool) {
	if game == nil || len(game.BetOptions) == 0 {
		return "", true
	}
	if len(args) == 0 {
		return "", false
	}
	for _, option := range game.BetOptions {
		if strings.EqualFold(option, args[0]) {
			return option, true
		}
	}
	return "", false
}

func joinOptions(options []string) string {
	return strings.Join(options, ", ")
}

// participantKey identifica al usuario aunque todavía no tenga registro propio.
func participantKey(user *domain.User) string {
	if user == nil {
		return "anonymous"
	}
	if user.IsUnassociated() {
		ids := user.Identities()
		if len(ids) == 0 {
			return "unassoc:"
		}
		return "unassoc:" + string(ids[0].Platform) + ":" + strings.ToLower(ids[0].Username)
	}
	return user.ID()
}
