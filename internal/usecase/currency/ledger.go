// Package currency administra monedas y stream passes de los usuarios.
package currency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
	boterrors "streamBot/pkg/errors"
)

// UserDirectory devuelve el registro vigente de un usuario tras una fusión.
type UserDirectory interface {
	Get(id string) *domain.User
}

// Ledger mantiene las definiciones de monedas y aplica los movimientos sobre los usuarios.
// Los saldos viven en cada User; las operaciones son sumas atómicas, nunca asignaciones.
type Ledger struct {
	repo   domain.CurrencyRepository
	users  UserDirectory
	logger *zap.Logger

	mu         sync.RWMutex
	currencies map[string]domain.Currency
	passes     map[string]domain.StreamPass
}

func NewLedger(repo domain.CurrencyRepository, users UserDirectory, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:       repo,
		users:      users,
		logger:     util.OrNop(logger),
		currencies: make(map[string]domain.Currency),
		passes:     make(map[string]domain.StreamPass),
	}
}

func (l *Ledger) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	currencies, err := l.repo.ListCurrencies(ctx)
	if err != nil {
		return fmt.Errorf("currency: load currencies: %w", err)
	}
	passes, err := l.repo.ListStreamPasses(ctx)
	if err != nil {
		return fmt.Errorf("currency: load stream passes: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range currencies {
		l.currencies[c.ID] = c
	}
	for _, p := range passes {
		l.passes[p.ID] = p
	}
	return nil
}

// Save persiste las definiciones (los saldos se guardan con los usuarios).
func (l *Ledger) Save(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	for _, c := range l.Currencies() {
		if err := l.repo.UpsertCurrency(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range l.StreamPasses() {
		if err := l.repo.UpsertStreamPass(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) UpsertCurrency(c domain.Currency) error {
	if c.ID == "" {
		return boterrors.NewValidationError("currency id is required", "id", c.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currencies[c.ID] = c
	return nil
}

func (l *Ledger) UpsertStreamPass(p domain.StreamPass) error {
	if p.ID == "" {
		return boterrors.NewValidationError("stream pass id is required", "id", p.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.passes[p.ID] = p
	return nil
}

func (l *Ledger) Currency(id string) (domain.Currency, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.currencies[id]
	return c, ok
}

func (l *Ledger) Currencies() []domain.Currency {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Currency, 0, len(l.currencies))
	for _, c := range l.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) StreamPasses() []domain.StreamPass {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.StreamPass, 0, len(l.passes))
	for _, p := range l.passes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddAmount suma amount (puede ser negativo) y devuelve el saldo resultante.
func (l *Ledger) AddAmount(user *domain.User, currencyID string, amount int64) (int64, error) {
	if amount == 0 {
		return l.Balance(user, currencyID), nil
	}
	var balance int64
	err := l.withCurrent(user, func(u *domain.User) error {
		var err error
		balance, err = u.AddCurrency(currencyID, amount)
		return err
	})
	return balance, err
}

// Withdraw descuenta amount sólo si el saldo alcanza.
func (l *Ledger) Withdraw(user *domain.User, currencyID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return l.withCurrent(user, func(u *domain.User) error {
		_, err := u.WithdrawCurrency(currencyID, amount)
		return err
	})
}

func (l *Ledger) SetAmount(user *domain.User, currencyID string, amount int64) error {
	return l.withCurrent(user, func(u *domain.User) error {
		return u.SetCurrency(currencyID, amount)
	})
}

func (l *Ledger) Balance(user *domain.User, currencyID string) int64 {
	if user == nil {
		return 0
	}
	if current := l.current(user); current != nil {
		return current.Balance(currencyID)
	}
	return user.Balance(currencyID)
}

func (l *Ledger) AddStreamPass(user *domain.User, passID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	return l.withCurrent(user, func(u *domain.User) error {
		_, err := u.AddStreamPass(passID, amount)
		return err
	})
}

// withCurrent aplica fn sobre el registro vigente; si el usuario fue fusionado mientras
// tanto, reintenta sobre el registro que lo absorbió.
func (l *Ledger) withCurrent(user *domain.User, fn func(*domain.User) error) error {
	if user == nil || user.IsUnassociated() {
		return domain.ErrUnassociatedUser
	}
	target := user
	for range 4 {
		err := fn(target)
		if !errors.Is(err, domain.ErrUserMerged) {
			return err
		}
		next := l.current(target)
		if next == nil || next == target {
			return err
		}
		target = next
	}
	return domain.ErrUserMerged
}

func (l *Ledger) current(user *domain.User) *domain.User {
	if l.users == nil {
		return user
	}
	id := user.ID()
	if merged := user.MergedInto(); merged != "" {
		id = merged
	}
	if u := l.users.Get(id); u != nil {
		return u
	}
	return user
}

// AwardFor aplica los bonos ligados al tipo de evento. Los usuarios no asociados no reciben nada.
func (l *Ledger) AwardFor(ev *domain.PlatformEvent) {
	if ev == nil || ev.ActingUser == nil || ev.ActingUser.IsUnassociated() {
		return
	}
	user := ev.ActingUser
	currencies := l.Currencies()
	passes := l.StreamPasses()

	switch ev.Kind {
	case domain.EventFollow:
		for _, c := range currencies {
			l.award(user, c.ID, c.OnFollowBonus)
		}
		l.awardPasses(ev, passes, func(p domain.StreamPass) int64 { return p.FollowBonus })

	case domain.EventSubscribe, domain.EventResubscribe:
		for _, c := range currencies {
			l.award(user, c.ID, c.OnSubscribeBonus)
		}
		l.awardPasses(ev, passes, func(p domain.StreamPass) int64 { return p.SubscribeBonus })

	case domain.EventSubscriptionGifted:
		months := int64(max(ev.AttrInt(domain.AttrSubMonthsGifted, 1), 1))
		for _, c := range currencies {
			l.award(user, c.ID, c.OnSubscribeBonus*months)
		}
		l.awardPasses(ev, passes, func(p domain.StreamPass) int64 { return p.SubscribeBonus })

	case domain.EventBitsCheered:
		bits := ev.AttrInt(domain.AttrBitsAmount, 0)
		if bits <= 0 {
			return
		}
		user.AddCounter(domain.CounterBitsCheered, int64(bits))
		for _, c := range currencies {
			if c.TracksBits {
				l.award(user, c.ID, int64(bits))
			}
		}
		l.awardPasses(ev, passes, func(p domain.StreamPass) int64 {
			return int64(math.Ceil(p.BitsBonus * float64(bits)))
		})

	case domain.EventRaided:
		for _, c := range currencies {
			l.award(user, c.ID, c.OnHostBonus)
		}
		l.awardPasses(ev, passes, func(p domain.StreamPass) int64 { return p.HostBonus })
	}
}

func (l *Ledger) award(user *domain.User, currencyID string, amount int64) {
	if amount == 0 {
		return
	}
	if _, err := l.AddAmount(user, currencyID, amount); err != nil {
		l.logger.Warn("currency: award failed",
			zap.String("user", user.ID()),
			zap.String("currency", currencyID),
			zap.Error(err),
		)
	}
}

func (l *Ledger) awardPasses(ev *domain.PlatformEvent, passes []domain.StreamPass, bonus func(domain.StreamPass) int64) {
	for _, p := range passes {
		if !ev.ActingUser.MeetsRole(ev.Platform, p.UserPermission) {
			continue
		}
		amount := bonus(p)
		if amount == 0 {
			continue
		}
		if err := l.AddStreamPass(ev.ActingUser, p.ID, amount); err != nil {
			l.logger.Warn("currency: stream pass award failed",
				zap.String("user", ev.ActingUser.ID()),
				zap.String("pass", p.ID),
				zap.Error(err),
			)
		}
	}
}
