// Package giftsubs agrupa los regalos individuales bajo su notificación de regalo masivo.
package giftsubs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
)

// AnonymousGifterKey agrupa a todos los regaladores anónimos, sin importar la plataforma.
const AnonymousGifterKey = "anonymous"

const DefaultInterval = 3 * time.Second

// GiftHandler recibe el resultado de la reconciliación.
type GiftHandler interface {
	// HandleGift procesa un regalo individual; fire es false cuando el regalo ya cuenta dentro
	// de un regalo masivo y no debe disparar su propio evento.
	HandleGift(ctx context.Context, gift *domain.PlatformEvent, fire bool)
	HandleMassGift(ctx context.Context, mass *domain.PlatformEvent, gifts []*domain.PlatformEvent)
}

type Config struct {
	// Threshold es MassGiftedSubsFilterAmount: 0 desactiva el buffer.
	Threshold int
	Interval  time.Duration
	Handler   GiftHandler
	Logger    *zap.Logger
}

type Reconciler struct {
	threshold int
	interval  time.Duration
	handler   GiftHandler
	logger    *zap.Logger

	mu      sync.Mutex
	gifts   []*domain.PlatformEvent
	masses  []*domain.PlatformEvent
	credits map[string]int
	// pendientes de un lote ya enviado: los regalos que lleguen tarde no cuentan ni disparan.
	late map[string]int
	seq  uint64

	kick chan struct{}
}

func New(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	threshold := cfg.Threshold
	if threshold < 0 {
		threshold = 0
	}
	return &Reconciler{
		threshold: threshold,
		interval:  interval,
		handler:   cfg.Handler,
		logger:    util.OrNop(cfg.Logger),
		credits:   make(map[string]int),
		late:      make(map[string]int),
		kick:      make(chan struct{}, 1),
	}
}

// GifterKey identifica al regalador de un evento de regalo.
func GifterKey(ev *domain.PlatformEvent) string {
	if ev == nil || ev.IsAnonymous() || ev.ActingUser == nil || ev.ActingUser.IsUnassociated() {
		return AnonymousGifterKey
	}
	return ev.ActingUser.ID()
}

// AddGift recibe un regalo individual. Se procesa en el acto si el buffer está desactivado
// o si un regalo masivo bajo el umbral ya lo cubrió; si no, espera al siguiente flush.
func (r *Reconciler) AddGift(ctx context.Context, gift *domain.PlatformEvent) {
	if r.threshold == 0 {
		r.processSingle(ctx, gift)
		return
	}

	key := GifterKey(gift)
	r.mu.Lock()
	if (r.credits[key] > 0 || r.late[key] > 0) && !r.hasPendingMassLocked(key) {
		r.mu.Unlock()
		r.processSingle(ctx, gift)
		return
	}
	r.gifts = append(r.gifts, gift)
	r.seq++
	r.mu.Unlock()
	r.signal()
}

// AddMassGift recibe la notificación "N subs regalados".
func (r *Reconciler) AddMassGift(ctx context.Context, mass *domain.PlatformEvent) {
	total := max(mass.AttrInt(domain.AttrSubsGiftedAmount, 1), 1)

	if r.threshold == 0 {
		r.creditMass(mass, total)
		r.handler.HandleMassGift(ctx, mass, nil)
		return
	}

	if total <= r.threshold {
		// Bajo el umbral no hay evento masivo: los regalos se disparan uno por uno.
		r.creditMass(mass, total)
		r.logger.Debug("gifts: mass gift below threshold",
			zap.String("gifter", GifterKey(mass)),
			zap.Int("total", total),
			zap.Int("threshold", r.threshold),
		)
		return
	}

	r.mu.Lock()
	r.masses = append(r.masses, mass)
	r.seq++
	r.mu.Unlock()
	r.signal()
}

func (r *Reconciler) signal() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run es el ciclo de flush. Espera intervalos completos hasta que ninguno agregue nada y
// entonces vacía el buffer. Al cancelarse vacía lo pendiente y termina.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.Flush(context.WithoutCancel(ctx))
			return nil
		case <-r.kick:
		}

		for {
			before := r.currentSeq()
			timer := time.NewTimer(r.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.Flush(context.WithoutCancel(ctx))
				return nil
			case <-timer.C:
			}
			if r.currentSeq() == before {
				break
			}
		}
		r.Flush(ctx)
	}
}

func (r *Reconciler) currentSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Reconciler) hasPendingMassLocked(key string) bool {
	for _, m := range r.masses {
		if GifterKey(m) == key {
			return true
		}
	}
	return false
}

// Flush procesa todo lo acumulado: cada regalo masivo se lleva hasta N regalos de su
// regalador (los más antiguos primero) y lo que sobra se procesa como regalo normal.
func (r *Reconciler) Flush(ctx context.Context) {
	r.mu.Lock()
	gifts := r.gifts
	masses := r.masses
	r.gifts = nil
	r.masses = nil
	r.mu.Unlock()

	if len(gifts) == 0 && len(masses) == 0 {
		return
	}

	byGifter := make(map[string][]int)
	for i, g := range gifts {
		key := GifterKey(g)
		byGifter[key] = append(byGifter[key], i)
	}
	consumed := make([]bool, len(gifts))

	for _, mass := range masses {
		key := GifterKey(mass)
		total := max(mass.AttrInt(domain.AttrSubsGiftedAmount, 1), 1)

		queue := byGifter[key]
		take := min(total, len(queue))
		batch := make([]*domain.PlatformEvent, 0, take)
		for _, idx := range queue[:take] {
			consumed[idx] = true
			batch = append(batch, gifts[idx])
		}
		byGifter[key] = queue[take:]
		if missing := total - take; missing > 0 {
			r.mu.Lock()
			r.late[key] += missing
			r.mu.Unlock()
		}

		receivers := make([]string, 0, len(batch))
		for _, g := range batch {
			countReceiver(g)
			r.handler.HandleGift(ctx, g, false)
			if g.TargetUser != nil {
				receivers = append(receivers, g.TargetUser.Username(g.Platform))
			}
		}

		countMass(mass, total)
		mass.Arguments = receivers
		r.handler.HandleMassGift(ctx, mass, batch)
		telemetry.IncGiftBatch()

		r.logger.Info("gifts: flush",
			zap.String("gifter", key),
			zap.Int("total", total),
			zap.Int("matched", len(batch)),
		)
	}

	for i, g := range gifts {
		if !consumed[i] {
			r.processSingle(ctx, g)
		}
	}
}

// processSingle es el camino de un regalo que no pertenece a ningún lote.
func (r *Reconciler) processSingle(ctx context.Context, gift *domain.PlatformEvent) {
	key := GifterKey(gift)

	r.mu.Lock()
	batched := spend(r.late, key)
	credited := batched || spend(r.credits, key)
	r.mu.Unlock()

	if !credited && associated(gift.ActingUser) {
		gift.ActingUser.AddCounter(domain.CounterSubsGifted, 1)
	}
	countReceiver(gift)
	r.handler.HandleGift(ctx, gift, !batched)
}

// spend descuenta un crédito de key si queda alguno.
func spend(credits map[string]int, key string) bool {
	if credits[key] <= 0 {
		return false
	}
	credits[key]--
	if credits[key] == 0 {
		delete(credits, key)
	}
	return true
}

// creditMass registra un regalo masivo que no se agrupa: sus regalos individuales ya
// quedan contados en el total del regalador.
func (r *Reconciler) creditMass(mass *domain.PlatformEvent, total int) {
	countMass(mass, total)
	key := GifterKey(mass)
	r.mu.Lock()
	r.credits[key] += total
	r.mu.Unlock()
}

func countMass(mass *domain.PlatformEvent, total int) {
	if !associated(mass.ActingUser) {
		return
	}
	if lifetime := mass.AttrInt(domain.AttrSubsGiftedLifetime, 0); lifetime > 0 {
		mass.ActingUser.SetCounter(domain.CounterSubsGifted, int64(lifetime))
		return
	}
	mass.ActingUser.AddCounter(domain.CounterSubsGifted, int64(total))
}

func countReceiver(gift *domain.PlatformEvent) {
	if !associated(gift.TargetUser) {
		return
	}
	months := max(gift.AttrInt(domain.AttrSubMonthsGifted, 1), 1)
	gift.TargetUser.AddCounter(domain.CounterSubsReceived, int64(months))
}

func associated(u *domain.User) bool {
	return u != nil && !u.IsUnassociated()
}
