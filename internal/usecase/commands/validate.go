package commands

import (
	"fmt"

	"streamBot/internal/domain"
	boterrors "streamBot/pkg/errors"
)

// Validate revisa que la definición sea ejecutable antes de guardarla.
func Validate(cmd *domain.CommandDefinition) error {
	if cmd.Name == "" {
		return boterrors.NewValidationError("el nombre es obligatorio", "name", cmd.Name)
	}

	switch cmd.Type {
	case domain.CommandTypeChat:
		if len(cmd.Triggers) == 0 {
			return boterrors.NewValidationError("un comando de chat necesita disparadores", "triggers", cmd.Triggers)
		}
	case domain.CommandTypeEvent:
		if cmd.Event == nil || cmd.Event.Kind == "" {
			return boterrors.NewValidationError("un comando de evento necesita el tipo de evento", "event", cmd.Event)
		}
	case domain.CommandTypeChannelPoints, domain.CommandTypeSpell:
	case domain.CommandTypeGame:
		if err := validateGame(cmd); err != nil {
			return err
		}
	default:
		return boterrors.NewValidationError("tipo de comando desconocido", "type", cmd.Type)
	}

	if role := cmd.Requirements.Role; role != "" && role.Rank() < 0 {
		return boterrors.NewValidationError("rol desconocido", "requirements.role", role)
	}
	if cost := cmd.Requirements.Cost; cost != nil && (cost.CurrencyID == "" || cost.Amount < 0) {
		return boterrors.NewValidationError("costo inválido", "requirements.cost", *cost)
	}
	if cmd.Requirements.Cooldown < 0 || cmd.Requirements.MinArgs < 0 {
		return boterrors.NewValidationError("requisitos inválidos", "requirements", cmd.Requirements)
	}

	for i, action := range cmd.Actions {
		if err := action.Validate(); err != nil {
			return boterrors.NewValidationError(err.Error(), fmt.Sprintf("actions[%d]", i), action.Kind)
		}
	}
	return nil
}

func validateGame(cmd *domain.CommandDefinition) error {
	game := cmd.Game
	if game == nil {
		return boterrors.NewValidationError("faltan los ajustes del juego", "game", nil)
	}
	if len(cmd.Triggers) == 0 && cmd.Event == nil {
		return boterrors.NewValidationError("un juego necesita un disparador", "triggers", cmd.Triggers)
	}
	if game.Window <= 0 {
		return boterrors.NewValidationError("la ventana del juego debe ser positiva", "game.window", game.Window)
	}
	if game.MinParticipants < 1 {
		return boterrors.NewValidationError("se necesita al menos un participante", "game.min_participants", game.MinParticipants)
	}
	if game.PayoutMultiplier < 0 {
		return boterrors.NewValidationError("multiplicador inválido", "game.payout_multiplier", game.PayoutMultiplier)
	}
	lists := [][]domain.Action{
		game.StartedActions, game.UserJoinActions, game.NotEnoughPlayersActions,
		game.WinActions, game.LoseActions, game.GameCompleteActions,
	}
	for _, list := range lists {
		for _, action := range list {
			if err := action.Validate(); err != nil {
				return boterrors.NewValidationError(err.Error(), "game.actions", action.Kind)
			}
		}
	}
	return nil
}
