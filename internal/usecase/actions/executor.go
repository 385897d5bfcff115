// Package actions ejecuta la lista de acciones de un comando sobre un contexto compartido.
package actions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
	boterrors "streamBot/pkg/errors"
)

const defaultTimeout = 5 * time.Minute

var mentionPattern = regexp.MustCompile(`@\w`)

// UserFinder ubica usuarios ya conocidos por nombre.
type UserFinder interface {
	FindByUsername(platform domain.Platform, username string) *domain.User
}

type Wallet interface {
	AddAmount(user *domain.User, currencyID string, amount int64) (int64, error)
	Withdraw(user *domain.User, currencyID string, amount int64) error
	SetAmount(user *domain.User, currencyID string, amount int64) error
}

type Config struct {
	Out       domain.OutgoingMessagePort
	Moderator domain.Moderator
	Users     UserFinder
	Wallet    Wallet
	Counters  *Counters
	Speech    domain.SpeechQueue
	Alerts    domain.AlertSink
	Social    domain.SocialPoster
	Logger    *zap.Logger
}

type handler func(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error

// Executor resuelve cada acción con una tabla indexada por tipo.
type Executor struct {
	cfg      Config
	logger   *zap.Logger
	handlers map[domain.ActionKind]handler
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewExecutor(cfg Config) *Executor {
	if cfg.Counters == nil {
		cfg.Counters = NewCounters(nil)
	}
	e := &Executor{cfg: cfg, logger: util.OrNop(cfg.Logger), sleep: sleepContext}
	e.handlers = map[domain.ActionKind]handler{
		domain.ActionChat:       e.chat,
		domain.ActionModeration: e.moderate,
		domain.ActionCurrency:   e.currency,
		domain.ActionCounter:    e.counter,
		domain.ActionWait:       e.wait,
		domain.ActionSpeak:      e.speak,
		domain.ActionOverlay:    e.overlay,
		domain.ActionSocial:     e.social,
	}
	return e
}

// Execute corre las acciones en orden. Un fallo se registra y se sigue con la siguiente; sólo
// devuelve error si una acción marcada AbortOnFailure falla o si ctx se cancela.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action, ec *domain.ExecutionContext) error {
	if ec.Attributes == nil {
		ec.Attributes = make(map[string]string)
	}
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, ok := e.handlers[action.Kind]
		if !ok || action.Validate() != nil {
			e.logger.Warn("actions: invalid action skipped", zap.String("kind", string(action.Kind)), zap.Int("index", i))
			continue
		}

		start := time.Now()
		err := h(ctx, action, ec)
		telemetry.ObserveAction(string(action.Kind), time.Since(start))
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if boterrors.IsNotConnected(err) {
			e.logger.Debug("actions: skipped, platform not connected",
				zap.String("kind", string(action.Kind)),
				zap.String("platform", string(ec.Platform)),
			)
			continue
		}

		telemetry.IncActionFailure(string(action.Kind))
		e.logger.Warn("actions: action failed",
			zap.String("command", ec.CommandName),
			zap.String("run", ec.RunID),
			zap.String("kind", string(action.Kind)),
			zap.Int("index", i),
			zap.Error(err),
		)
		if action.AbortOnFailure {
			return boterrors.NewActionError("ejecución abortada", string(action.Kind), err)
		}
	}
	return nil
}

func (e *Executor) text(value string, ec *domain.ExecutionContext) string {
	return strings.TrimSpace(Interpolate(value, ec, e.cfg.Counters.Snapshot()))
}

func (e *Executor) chat(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	text := e.text(a.Chat.Text, ec)
	if text == "" {
		return nil
	}
	if a.Chat.Mention && ec.User != nil {
		text = "@" + ec.User.DisplayName(ec.Platform) + " " + text
	}
	return e.send(ctx, ec, text)
}

func (e *Executor) send(ctx context.Context, ec *domain.ExecutionContext, text string) error {
	if e.cfg.Out == nil {
		return boterrors.NewNotConnectedError(string(ec.Platform))
	}
	return e.cfg.Out.SendMessage(ctx, ec.Platform, ec.ChannelID, text)
}

// target resuelve el usuario de la acción: vacío es quien disparó el comando.
func (e *Executor) target(raw string, ec *domain.ExecutionContext) *domain.User {
	name := strings.TrimPrefix(e.text(raw, ec), "@")
	if name == "" {
		return ec.User
	}
	if ec.User != nil && strings.EqualFold(ec.User.Username(ec.Platform), name) {
		return ec.User
	}
	if ec.TargetUser != nil && strings.EqualFold(ec.TargetUser.Username(ec.Platform), name) {
		return ec.TargetUser
	}
	if e.cfg.Users == nil {
		return nil
	}
	return e.cfg.Users.FindByUsername(ec.Platform, name)
}

func (e *Executor) moderate(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	m := a.Moderation
	if reason := e.text(m.Reason, ec); reason != "" {
		ec.Attributes[domain.AttrModerationReason] = reason
	}

	if m.Type == domain.ModerationClearChat {
		return e.platformModerate(ctx, ec, domain.ModerationRequest{Type: m.Type, Reason: ec.Attributes[domain.AttrModerationReason]})
	}

	user := e.target(m.Target, ec)
	if user == nil {
		e.logger.Debug("actions: moderation target not found", zap.String("target", m.Target))
		return nil
	}

	switch m.Type {
	case domain.ModerationAddStrike:
		user.AddCounter(domain.CounterModerationStrikes, 1)
		return nil
	case domain.ModerationRemoveStrike:
		if user.Counter(domain.CounterModerationStrikes) > 0 {
			user.AddCounter(domain.CounterModerationStrikes, -1)
		}
		return nil
	}

	identity, ok := user.Identity(ec.Platform)
	if !ok {
		e.logger.Debug("actions: moderation target has no identity on platform", zap.String("platform", string(ec.Platform)))
		return nil
	}
	req := domain.ModerationRequest{
		Type:   m.Type,
		Target: identity,
		Reason: ec.Attributes[domain.AttrModerationReason],
	}
	switch m.Type {
	case domain.ModerationTimeout:
		req.Duration = e.seconds(m.Duration, ec, defaultTimeout)
	case domain.ModerationPurge:
		req.Duration = time.Second
	}
	return e.platformModerate(ctx, ec, req)
}

func (e *Executor) platformModerate(ctx context.Context, ec *domain.ExecutionContext, req domain.ModerationRequest) error {
	if e.cfg.Moderator == nil {
		return boterrors.NewNotConnectedError(string(ec.Platform))
	}
	req.Platform = ec.Platform
	req.ChannelID = ec.ChannelID
	return e.cfg.Moderator.Moderate(ctx, req)
}

func (e *Executor) seconds(raw string, ec *domain.ExecutionContext, def time.Duration) time.Duration {
	value := e.text(raw, ec)
	if value == "" {
		return def
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (e *Executor) currency(_ context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	c := a.Currency
	if e.cfg.Wallet == nil {
		return boterrors.NewNotConnectedError(string(ec.Platform))
	}
	user := e.target(c.Target, ec)
	if user == nil || user.IsUnassociated() {
		e.logger.Debug("actions: currency target not found", zap.String("target", c.Target))
		return nil
	}

	raw := e.text(c.Amount, ec)
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("actions: invalid amount %q: %w", raw, err)
	}

	switch c.Operation {
	case domain.CurrencySubtract:
		if err := e.cfg.Wallet.Withdraw(user, c.CurrencyID, amount); errors.Is(err, domain.ErrInsufficientFunds) {
			return e.cfg.Wallet.SetAmount(user, c.CurrencyID, 0)
		} else if err != nil {
			return err
		}
	case domain.CurrencySet:
		return e.cfg.Wallet.SetAmount(user, c.CurrencyID, amount)
	default:
		_, err := e.cfg.Wallet.AddAmount(user, c.CurrencyID, amount)
		return err
	}
	return nil
}

func (e *Executor) counter(_ context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	c := a.Counter
	amount := 1.0
	if raw := e.text(c.Amount, ec); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("actions: invalid counter amount %q: %w", raw, err)
		}
		amount = parsed
	}
	if _, ok := e.cfg.Counters.Apply(c.Name, c.Operation, amount); !ok {
		e.logger.Debug("actions: counter not found", zap.String("counter", c.Name))
	}
	return nil
}

func (e *Executor) wait(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	return e.sleep(ctx, e.seconds(a.Wait.Seconds, ec, 0))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) speak(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	text := e.text(a.Speak.Text, ec)
	if text == "" {
		return nil
	}
	if e.cfg.Speech == nil {
		return boterrors.NewNotConnectedError("tts")
	}
	requestedBy := domain.AnonymousUsername
	if ec.User != nil {
		requestedBy = ec.User.DisplayName(ec.Platform)
	}
	return e.cfg.Speech.Speak(ctx, text, a.Speak.Voice, requestedBy, ec.Platform, ec.ChannelID)
}

func (e *Executor) overlay(_ context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	text := e.text(a.Overlay.Text, ec)
	if text == "" || e.cfg.Alerts == nil {
		return nil
	}
	username := ""
	if ec.User != nil {
		username = ec.User.DisplayName(ec.Platform)
	}
	e.cfg.Alerts.Alert(domain.Alert{
		Type:      domain.AlertOverlay,
		Platform:  ec.Platform,
		Username:  username,
		Text:      text,
		Duration:  e.seconds(a.Overlay.Duration, ec, 0),
		CreatedAt: time.Now(),
	})
	return nil
}

// social rechaza textos con menciones y avisa en el chat en lugar de publicar.
func (e *Executor) social(ctx context.Context, a domain.Action, ec *domain.ExecutionContext) error {
	text := e.text(a.Social.Text, ec)
	if text == "" {
		return nil
	}
	if mentionPattern.MatchString(text) {
		e.logger.Info("actions: social post rejected, contains mention", zap.String("command", ec.CommandName))
		return e.send(ctx, ec, "No se puede publicar en redes un mensaje con @menciones.")
	}
	if e.cfg.Social == nil {
		return boterrors.NewNotConnectedError("social")
	}
	return e.cfg.Social.Post(ctx, text)
}
