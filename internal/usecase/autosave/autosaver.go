package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/util"
)

// SaveFunc persiste una parte del estado (usuarios, contadores, ...).
type SaveFunc func(ctx context.Context) error

type namedSaver struct {
	name string
	fn   SaveFunc
}

// Autosaver ejecuta los guardados registrados cada intervalo y una última vez al apagarse.
type Autosaver struct {
	logger *zap.Logger

	mu     sync.RWMutex
	savers []namedSaver
}

func New(logger *zap.Logger) *Autosaver {
	return &Autosaver{logger: util.OrNop(logger)}
}

func (a *Autosaver) Register(name string, fn SaveFunc) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.savers = append(a.savers, namedSaver{name: name, fn: fn})
}

// Run bloquea hasta que ctx se cancela.
func (a *Autosaver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.SaveAll(finalCtx); err != nil {
				a.logger.Error("autosave: final save failed", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := a.SaveAll(ctx); err != nil {
				a.logger.Warn("autosave: save failed", zap.Error(err))
			}
		}
	}
}

// SaveAll es el guardado explícito; sigue con los demás aunque alguno falle.
func (a *Autosaver) SaveAll(ctx context.Context) error {
	a.mu.RLock()
	savers := append([]namedSaver(nil), a.savers...)
	a.mu.RUnlock()

	var errs []error
	for _, s := range savers {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) == 0 {
		a.logger.Debug("autosave: saved", zap.Int("savers", len(savers)))
	}
	return errors.Join(errs...)
}
