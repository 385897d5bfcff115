package domain

import "strings"

// CommandAccessRole sirve tanto para requisitos de comandos como para los roles de una identidad.
type CommandAccessRole string

const (
	CommandAccessEveryone    CommandAccessRole = "everyone"
	CommandAccessFollowers   CommandAccessRole = "followers"
	CommandAccessSubscribers CommandAccessRole = "subscribers"
	CommandAccessVIPs        CommandAccessRole = "vips"
	CommandAccessModerators  CommandAccessRole = "moderators"
	CommandAccessOwner       CommandAccessRole = "owner"

	// RoleBanned nunca satisface un requisito.
	RoleBanned CommandAccessRole = "banned"
)

var roleRank = map[CommandAccessRole]int{
	CommandAccessEveryone:    0,
	CommandAccessFollowers:   1,
	CommandAccessSubscribers: 2,
	CommandAccessVIPs:        3,
	CommandAccessModerators:  4,
	CommandAccessOwner:       5,
}

func NormalizeRole(value string) (CommandAccessRole, bool) {
	role := CommandAccessRole(strings.ToLower(strings.TrimSpace(value)))
	if role == RoleBanned {
		return role, true
	}
	_, ok := roleRank[role]
	return role, ok
}

// Rank devuelve -1 para roles desconocidos.
func (r CommandAccessRole) Rank() int {
	if rank, ok := roleRank[r]; ok {
		return rank
	}
	return -1
}

// HighestRole devuelve el rol de mayor rango de la lista (everyone si está vacía).
func HighestRole(roles []CommandAccessRole) CommandAccessRole {
	best := CommandAccessEveryone
	for _, role := range roles {
		if role.Rank() > best.Rank() {
			best = role
		}
	}
	return best
}
