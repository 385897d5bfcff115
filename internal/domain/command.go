package domain

import (
	"context"
	"time"
)

type CommandType string

const (
	CommandTypeChat          CommandType = "chat"
	CommandTypeEvent         CommandType = "event"
	CommandTypeChannelPoints CommandType = "channel_points"
	CommandTypeSpell         CommandType = "spell"
	CommandTypeGame          CommandType = "game"
)

type CooldownScope string

const (
	CooldownGlobal  CooldownScope = "global"
	CooldownPerUser CooldownScope = "per_user"
)

// EventTrigger asocia un comando a un tipo de evento; Platform vacía acepta cualquier plataforma.
type EventTrigger struct {
	Platform Platform  `json:"platform,omitempty"`
	Kind     EventKind `json:"kind"`
}

type CurrencyCost struct {
	CurrencyID string `json:"currency_id"`
	Amount     int64  `json:"amount"`
}

type Requirements struct {
	Role          CommandAccessRole `json:"role,omitempty"`
	Cost          *CurrencyCost     `json:"cost,omitempty"`
	Cooldown      time.Duration     `json:"cooldown,omitempty"`
	CooldownScope CooldownScope     `json:"cooldown_scope,omitempty"`
	MinArgs       int               `json:"min_args,omitempty"`
}

// GameSettings describe un comando con ventana de participación (ruleta).
type GameSettings struct {
	Window           time.Duration `json:"window"`
	MinParticipants  int           `json:"min_participants"`
	BetOptions       []string      `json:"bet_options,omitempty"`
	PayoutMultiplier float64       `json:"payout_multiplier"`

	StartedActions          []Action `json:"started_actions,omitempty"`
	UserJoinActions         []Action `json:"user_join_actions,omitempty"`
	NotEnoughPlayersActions []Action `json:"not_enough_players_actions,omitempty"`
	WinActions              []Action `json:"win_actions,omitempty"`
	LoseActions             []Action `json:"lose_actions,omitempty"`
	GameCompleteActions     []Action `json:"game_complete_actions,omitempty"`
}

// CommandDefinition es una automatización escrita por el usuario.
type CommandDefinition struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      CommandType   `json:"type"`
	Enabled   bool          `json:"enabled"`
	Triggers  []string      `json:"triggers,omitempty"`
	Event     *EventTrigger `json:"event,omitempty"`
	RewardID  string        `json:"reward_id,omitempty"`
	Platforms []Platform    `json:"platforms,omitempty"`

	Actions      []Action      `json:"actions"`
	Requirements Requirements  `json:"requirements"`
	Game         *GameSettings `json:"game,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (c *CommandDefinition) SupportsPlatform(platform Platform) bool {
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

func (c *CommandDefinition) IsGame() bool {
	return c.Type == CommandTypeGame && c.Game != nil
}

type CommandRepository interface {
	UpsertCommand(ctx context.Context, cmd *CommandDefinition) error
	ListCommands(ctx context.Context) ([]*CommandDefinition, error)
	DeleteCommand(ctx context.Context, id string) error
}

// ExecutionContext es el estado compartido por las acciones de una misma ejecución.
type ExecutionContext struct {
	RunID       string
	CommandID   string
	CommandName string
	Platform    Platform
	ChannelID   string
	User        *User
	TargetUser  *User
	Arguments   []string
	Attributes  map[string]string
	Event       *PlatformEvent
}

func NewExecutionContext(cmd *CommandDefinition, ev *PlatformEvent, args []string) *ExecutionContext {
	ec := &ExecutionContext{
		Attributes: make(map[string]string),
		Arguments:  append([]string(nil), args...),
	}
	if cmd != nil {
		ec.CommandID = cmd.ID
		ec.CommandName = cmd.Name
	}
	if ev != nil {
		ec.Event = ev
		ec.Platform = ev.Platform
		ec.ChannelID = ev.ChannelID
		ec.User = ev.ActingUser
		ec.TargetUser = ev.TargetUser
		for k, v := range ev.Attributes {
			ec.Attributes[k] = v
		}
		if args == nil {
			ec.Arguments = append([]string(nil), ev.Arguments...)
		}
	}
	return ec
}
