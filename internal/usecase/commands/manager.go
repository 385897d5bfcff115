package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamBot/internal/domain"
	boterrors "streamBot/pkg/errors"
)

// maxTriggerWords limita cuántas palabras iniciales se prueban como disparador de chat.
const maxTriggerWords = 3

// Manager guarda las definiciones de comandos e índices para encontrarlas por disparador.
type Manager struct {
	repo domain.CommandRepository

	mu       sync.RWMutex
	commands map[string]*domain.CommandDefinition
	triggers map[string]string
	events   map[domain.EventKind][]string
	rewardID map[string]string
	reward   map[string]string
	spells   map[string]string
}

// Match es un comando encontrado junto con los argumentos que le corresponden.
type Match struct {
	Command *domain.CommandDefinition
	Args    []string
	// FromChat indica que el disparador fue un mensaje; los rechazos se contestan en el chat.
	FromChat bool
}

func NewManager(repo domain.CommandRepository) *Manager {
	m := &Manager{repo: repo}
	m.commands = make(map[string]*domain.CommandDefinition)
	m.rebuildIndexesLocked()
	return m
}

func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	list, err := m.repo.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("commands: list: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cmd := range list {
		if cmd == nil || cmd.ID == "" {
			continue
		}
		m.commands[cmd.ID] = cloneCommand(cmd)
	}
	m.rebuildIndexesLocked()
	return nil
}

// Save persiste todas las definiciones en memoria.
func (m *Manager) Save(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	for _, cmd := range m.List() {
		if err := m.repo.UpsertCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) rebuildIndexesLocked() {
	m.triggers = make(map[string]string)
	m.events = make(map[domain.EventKind][]string)
	m.rewardID = make(map[string]string)
	m.reward = make(map[string]string)
	m.spells = make(map[string]string)

	for id, cmd := range m.commands {
		switch cmd.Type {
		case domain.CommandTypeChat, domain.CommandTypeGame:
			for _, trigger := range cmd.Triggers {
				if key := normalizeTrigger(trigger); key != "" {
					m.triggers[key] = id
				}
			}
			if cmd.Type == domain.CommandTypeGame && cmd.Event != nil {
				m.events[cmd.Event.Kind] = append(m.events[cmd.Event.Kind], id)
			}
		case domain.CommandTypeEvent:
			if cmd.Event != nil {
				m.events[cmd.Event.Kind] = append(m.events[cmd.Event.Kind], id)
			}
		case domain.CommandTypeChannelPoints:
			if cmd.RewardID != "" {
				m.rewardID[cmd.RewardID] = id
			}
			m.reward[normalizeTrigger(cmd.Name)] = id
		case domain.CommandTypeSpell:
			m.spells[normalizeTrigger(cmd.Name)] = id
		}
	}
	for kind := range m.events {
		slices.SortFunc(m.events[kind], func(a, b string) int {
			return strings.Compare(m.commands[a].Name, m.commands[b].Name)
		})
	}
}

func (m *Manager) Get(id string) *domain.CommandDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneCommand(m.commands[id])
}

func (m *Manager) List() []*domain.CommandDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CommandDefinition, 0, len(m.commands))
	for _, cmd := range m.commands {
		out = append(out, cloneCommand(cmd))
	}
	slices.SortFunc(out, func(a, b *domain.CommandDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Upsert valida y guarda la definición. Devuelve true si el comando es nuevo.
func (m *Manager) Upsert(ctx context.Context, cmd *domain.CommandDefinition) (*domain.CommandDefinition, bool, error) {
	if cmd == nil {
		return nil, false, boterrors.NewValidationError("command is required", "command", nil)
	}
	next := cloneCommand(cmd)
	next.Name = strings.TrimSpace(next.Name)
	next.Triggers = normalizeTriggerList(next.Triggers)
	if err := Validate(next); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	_, exists := m.commands[next.ID]
	if err := m.ensureNoConflictsLocked(next); err != nil {
		return nil, false, err
	}
	next.UpdatedAt = time.Now()

	if m.repo != nil {
		if err := m.repo.UpsertCommand(ctx, next); err != nil {
			return nil, false, err
		}
	}

	m.commands[next.ID] = next
	m.rebuildIndexesLocked()
	return cloneCommand(next), !exists, nil
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.commands[id]; !ok {
		return false, nil
	}
	if m.repo != nil {
		if err := m.repo.DeleteCommand(ctx, id); err != nil {
			return false, err
		}
	}
	delete(m.commands, id)
	m.rebuildIndexesLocked()
	return true, nil
}

func (m *Manager) ensureNoConflictsLocked(cmd *domain.CommandDefinition) error {
	for _, trigger := range cmd.Triggers {
		if owner, ok := m.triggers[trigger]; ok && owner != cmd.ID {
			return boterrors.NewValidationError(
				fmt.Sprintf("el disparador %q ya está en uso por %q", trigger, m.commands[owner].Name),
				"triggers", trigger,
			)
		}
	}
	if cmd.Type == domain.CommandTypeChannelPoints && cmd.RewardID != "" {
		if owner, ok := m.rewardID[cmd.RewardID]; ok && owner != cmd.ID {
			return boterrors.NewValidationError("la recompensa ya tiene un comando", "reward_id", cmd.RewardID)
		}
	}
	return nil
}

// MatchChat busca el disparador más largo al inicio del mensaje; el resto son argumentos.
func (m *Manager) MatchChat(platform domain.Platform, text string) (Match, bool) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Match{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for n := min(maxTriggerWords, len(words)); n > 0; n-- {
		key := normalizeTrigger(strings.Join(words[:n], " "))
		id, ok := m.triggers[key]
		if !ok {
			continue
		}
		cmd := m.commands[id]
		if !cmd.Enabled || !cmd.SupportsPlatform(platform) {
			return Match{}, false
		}
		return Match{Command: cloneCommand(cmd), Args: append([]string(nil), words[n:]...), FromChat: true}, true
	}
	return Match{}, false
}

// MatchEvent devuelve los comandos de evento ligados al tipo y la plataforma.
func (m *Manager) MatchEvent(ev *domain.PlatformEvent) []Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Match
	for _, id := range m.events[ev.Kind] {
		cmd := m.commands[id]
		if !cmd.Enabled || !cmd.SupportsPlatform(ev.Platform) {
			continue
		}
		if cmd.Event.Platform != "" && cmd.Event.Platform != ev.Platform {
			continue
		}
		out = append(out, Match{Command: cloneCommand(cmd), Args: append([]string(nil), ev.Arguments...)})
	}
	return out
}

// MatchReward busca por ID de recompensa y, si no hay, por nombre sin distinguir mayúsculas.
func (m *Manager) MatchReward(platform domain.Platform, rewardID, rewardName string) (Match, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.rewardID[rewardID]
	if !ok || rewardID == "" {
		id, ok = m.reward[normalizeTrigger(rewardName)]
	}
	if !ok {
		return Match{}, false
	}
	cmd := m.commands[id]
	if !cmd.Enabled || !cmd.SupportsPlatform(platform) {
		return Match{}, false
	}
	return Match{Command: cloneCommand(cmd)}, true
}

func (m *Manager) MatchSpell(platform domain.Platform, spellName string) (Match, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.spells[normalizeTrigger(spellName)]
	if !ok {
		return Match{}, false
	}
	cmd := m.commands[id]
	if !cmd.Enabled || !cmd.SupportsPlatform(platform) {
		return Match{}, false
	}
	return Match{Command: cloneCommand(cmd)}, true
}

func normalizeTrigger(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

func normalizeTriggerList(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range values {
		key := normalizeTrigger(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func cloneCommand(cmd *domain.CommandDefinition) *domain.CommandDefinition {
	if cmd == nil {
		return nil
	}
	out := *cmd
	out.Triggers = slices.Clone(cmd.Triggers)
	out.Platforms = slices.Clone(cmd.Platforms)
	out.Actions = slices.Clone(cmd.Actions)
	if cmd.Event != nil {
		ev := *cmd.Event
		out.Event = &ev
	}
	if cmd.Requirements.Cost != nil {
		cost := *cmd.Requirements.Cost
		out.Requirements.Cost = &cost
	}
	if cmd.Game != nil {
		game := *cmd.Game
		game.BetOptions = slices.Clone(cmd.Game.BetOptions)
		out.Game = &game
	}
	return &out
}
