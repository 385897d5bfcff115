package actions

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"streamBot/internal/domain"
)

// Counters guarda los contadores globales que los comandos actualizan y muestran.
type Counters struct {
	repo domain.CounterRepository

	mu     sync.Mutex
	values map[string]float64
}

func NewCounters(repo domain.CounterRepository) *Counters {
	return &Counters{repo: repo, values: make(map[string]float64)}
}

func (c *Counters) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	values, err := c.repo.ListCounters(ctx)
	if err != nil {
		return fmt.Errorf("counters: list: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, value := range values {
		c.values[counterKey(name)] = value
	}
	return nil
}

func (c *Counters) Save(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	return c.repo.SaveCounters(ctx, c.Snapshot())
}

// Define crea el contador si no existe.
func (c *Counters) Define(name string, initial float64) {
	key := counterKey(name)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.values[key] = initial
	}
}

func (c *Counters) Value(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[counterKey(name)]
	return v, ok
}

func (c *Counters) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

// Apply aplica la operación. Update y reset sobre un contador inexistente no hacen nada;
// set lo crea.
func (c *Counters) Apply(name string, op domain.CounterOperation, amount float64) (float64, bool) {
	key := counterKey(name)
	if key == "" {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.values[key]
	switch op {
	case domain.CounterSet:
		c.values[key] = amount
	case domain.CounterReset:
		if !exists {
			return 0, false
		}
		c.values[key] = 0
	default:
		if !exists {
			return 0, false
		}
		c.values[key] = current + amount
	}
	return c.values[key], true
}

func counterKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
