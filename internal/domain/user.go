package domain

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// UnassociatedUserID identifica al usuario temporal que no pertenece a ninguna identidad conocida.
const UnassociatedUserID = "00000000-0000-0000-0000-000000000000"

const AnonymousUsername = "Anonymous"

// Contadores acumulados por usuario.
const (
	CounterSubsGifted        = "subs_gifted"
	CounterSubsReceived      = "subs_received"
	CounterMonthsSubbed      = "months_subbed"
	CounterMessagesSent      = "messages_sent"
	CounterBitsCheered       = "bits_cheered"
	CounterModerationStrikes = "moderation_strikes"
)

var (
	ErrUserMerged        = errors.New("user merged into another record")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnassociatedUser  = errors.New("user is unassociated")
)

type PlatformIdentity struct {
	Platform       Platform            `json:"platform"`
	ID             string              `json:"id"`
	Username       string              `json:"username"`
	DisplayName    string              `json:"display_name"`
	Roles          []CommandAccessRole `json:"roles,omitempty"`
	SubscriberTier int                 `json:"subscriber_tier,omitempty"`
}

// UserRecord es la forma plana y serializable de un User.
type UserRecord struct {
	ID         string                      `json:"id"`
	Identities []PlatformIdentity          `json:"identities"`
	Currency   map[string]int64            `json:"currency,omitempty"`
	Inventory  map[string]map[string]int64 `json:"inventory,omitempty"`
	StreamPass map[string]int64            `json:"stream_pass,omitempty"`
	Counters   map[string]int64            `json:"counters,omitempty"`
	Notes      string                      `json:"notes,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	LastSeen   time.Time                   `json:"last_seen"`
}

// User unifica las cuentas de varias plataformas. Todos los accesos pasan por su mutex.
type User struct {
	mu sync.RWMutex

	id           string
	identities   map[Platform]PlatformIdentity
	currency     map[string]int64
	inventory    map[string]map[string]int64
	streamPass   map[string]int64
	counters     map[string]int64
	notes        string
	unassociated bool
	mergedInto   string
	createdAt    time.Time
	lastSeen     time.Time

	// survivor recibe los contadores que todavía escriban sobre este registro ya fusionado.
	survivor *User
}

func NewUser(id string, identity PlatformIdentity, now time.Time) *User {
	u := newEmptyUser(id, now)
	if identity.Platform != "" {
		u.identities[identity.Platform] = cloneIdentity(identity)
	}
	return u
}

// NewUnassociatedUser crea un usuario temporal que no se indexa ni recibe premios.
func NewUnassociatedUser(platform Platform, username string, now time.Time) *User {
	if strings.TrimSpace(username) == "" {
		username = AnonymousUsername
	}
	u := newEmptyUser(UnassociatedUserID, now)
	u.unassociated = true
	u.identities[platform] = PlatformIdentity{
		Platform:    platform,
		Username:    username,
		DisplayName: username,
	}
	return u
}

func UserFromRecord(rec UserRecord) *User {
	u := newEmptyUser(rec.ID, rec.CreatedAt)
	u.lastSeen = rec.LastSeen
	for _, identity := range rec.Identities {
		if identity.Platform == "" {
			continue
		}
		u.identities[identity.Platform] = cloneIdentity(identity)
	}
	maps.Copy(u.currency, rec.Currency)
	maps.Copy(u.streamPass, rec.StreamPass)
	maps.Copy(u.counters, rec.Counters)
	for inv, items := range rec.Inventory {
		u.inventory[inv] = maps.Clone(items)
	}
	u.notes = rec.Notes
	return u
}

func newEmptyUser(id string, now time.Time) *User {
	return &User{
		id:         id,
		identities: make(map[Platform]PlatformIdentity),
		currency:   make(map[string]int64),
		inventory:  make(map[string]map[string]int64),
		streamPass: make(map[string]int64),
		counters:   make(map[string]int64),
		createdAt:  now,
		lastSeen:   now,
	}
}

func (u *User) ID() string {
	return u.id
}

func (u *User) IsUnassociated() bool {
	return u.unassociated
}

func (u *User) MergedInto() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mergedInto
}

func (u *User) Snapshot() UserRecord {
	u.mu.RLock()
	defer u.mu.RUnlock()

	rec := UserRecord{
		ID:         u.id,
		Identities: make([]PlatformIdentity, 0, len(u.identities)),
		Currency:   maps.Clone(u.currency),
		StreamPass: maps.Clone(u.streamPass),
		Counters:   maps.Clone(u.counters),
		Inventory:  make(map[string]map[string]int64, len(u.inventory)),
		Notes:      u.notes,
		CreatedAt:  u.createdAt,
		LastSeen:   u.lastSeen,
	}
	for _, identity := range u.identities {
		rec.Identities = append(rec.Identities, cloneIdentity(identity))
	}
	slices.SortFunc(rec.Identities, func(a, b PlatformIdentity) int {
		return strings.Compare(string(a.Platform), string(b.Platform))
	})
	for inv, items := range u.inventory {
		rec.Inventory[inv] = maps.Clone(items)
	}
	return rec
}

func (u *User) Identity(platform Platform) (PlatformIdentity, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	identity, ok := u.identities[platform]
	if !ok {
		return PlatformIdentity{}, false
	}
	return cloneIdentity(identity), true
}

func (u *User) Identities() []PlatformIdentity {
	return u.Snapshot().Identities
}

// SetIdentity reemplaza los datos de la plataforma conservando el ID si el nuevo viene vacío.
func (u *User) SetIdentity(identity PlatformIdentity) {
	if identity.Platform == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	current, ok := u.identities[identity.Platform]
	if ok {
		if identity.ID == "" {
			identity.ID = current.ID
		}
		if identity.Username == "" {
			identity.Username = current.Username
		}
		if identity.DisplayName == "" {
			identity.DisplayName = current.DisplayName
		}
		if identity.Roles == nil {
			identity.Roles = current.Roles
		}
		if identity.SubscriberTier == 0 {
			identity.SubscriberTier = current.SubscriberTier
		}
	}
	u.identities[identity.Platform] = cloneIdentity(identity)
}

// AddRole agrega un rol a la identidad de la plataforma si aún no lo tiene.
func (u *User) AddRole(platform Platform, role CommandAccessRole) {
	u.mu.Lock()
	defer u.mu.Unlock()
	identity, ok := u.identities[platform]
	if !ok || slices.Contains(identity.Roles, role) {
		return
	}
	identity.Roles = append(slices.Clone(identity.Roles), role)
	u.identities[platform] = identity
}

// Username devuelve el nombre en la plataforma pedida o, si no existe, el de cualquier otra.
func (u *User) Username(platform Platform) string {
	identity, ok := u.pickIdentity(platform)
	if !ok {
		return AnonymousUsername
	}
	return identity.Username
}

func (u *User) DisplayName(platform Platform) string {
	identity, ok := u.pickIdentity(platform)
	if !ok {
		return AnonymousUsername
	}
	if identity.DisplayName != "" {
		return identity.DisplayName
	}
	return identity.Username
}

func (u *User) pickIdentity(platform Platform) (PlatformIdentity, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if identity, ok := u.identities[platform]; ok {
		return identity, true
	}
	for _, p := range supportedPlatforms {
		if identity, ok := u.identities[p]; ok {
			return identity, true
		}
	}
	return PlatformIdentity{}, false
}

func (u *User) Roles(platform Platform) []CommandAccessRole {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.identities[platform].Roles)
}

func (u *User) IsBanned(platform Platform) bool {
	return slices.Contains(u.Roles(platform), RoleBanned)
}

// MeetsRole compara el rol más alto de la identidad contra el requerido.
func (u *User) MeetsRole(platform Platform, required CommandAccessRole) bool {
	if required == "" || required == CommandAccessEveryone {
		return !u.IsBanned(platform)
	}
	roles := u.Roles(platform)
	if slices.Contains(roles, RoleBanned) {
		return false
	}
	return HighestRole(roles).Rank() >= required.Rank()
}

func (u *User) Balance(currencyID string) int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.currency[currencyID]
}

// AddCurrency suma delta de forma atómica. Falla con ErrUserMerged si el registro ya fue absorbido.
func (u *User) AddCurrency(currencyID string, delta int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mergedInto != "" {
		return 0, ErrUserMerged
	}
	u.currency[currencyID] += delta
	return u.currency[currencyID], nil
}

// WithdrawCurrency descuenta amount sólo si el saldo alcanza.
func (u *User) WithdrawCurrency(currencyID string, amount int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mergedInto != "" {
		return 0, ErrUserMerged
	}
	if u.currency[currencyID] < amount {
		return u.currency[currencyID], ErrInsufficientFunds
	}
	u.currency[currencyID] -= amount
	return u.currency[currencyID], nil
}

func (u *User) SetCurrency(currencyID string, amount int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mergedInto != "" {
		return ErrUserMerged
	}
	u.currency[currencyID] = amount
	return nil
}

func (u *User) StreamPassPoints(passID string) int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.streamPass[passID]
}

func (u *User) AddStreamPass(passID string, delta int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mergedInto != "" {
		return 0, ErrUserMerged
	}
	u.streamPass[passID] += delta
	return u.streamPass[passID], nil
}

func (u *User) InventoryAmount(inventoryID, item string) int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.inventory[inventoryID][item]
}

func (u *User) AddInventory(inventoryID, item string, delta int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mergedInto != "" {
		return 0, ErrUserMerged
	}
	if u.inventory[inventoryID] == nil {
		u.inventory[inventoryID] = make(map[string]int64)
	}
	u.inventory[inventoryID][item] += delta
	return u.inventory[inventoryID][item], nil
}

func (u *User) Counter(name string) int64 {
	u.mu.RLock()
	if next := u.survivor; next != nil {
		u.mu.RUnlock()
		return next.Counter(name)
	}
	defer u.mu.RUnlock()
	return u.counters[name]
}

// AddCounter sobre un registro fusionado se aplica al registro que lo absorbió.
func (u *User) AddCounter(name string, delta int64) int64 {
	u.mu.Lock()
	if next := u.survivor; next != nil {
		u.mu.Unlock()
		return next.AddCounter(name, delta)
	}
	defer u.mu.Unlock()
	u.counters[name] += delta
	return u.counters[name]
}

func (u *User) SetCounter(name string, value int64) {
	u.mu.Lock()
	if next := u.survivor; next != nil {
		u.mu.Unlock()
		next.SetCounter(name, value)
		return
	}
	defer u.mu.Unlock()
	u.counters[name] = value
}

func (u *User) Notes() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.notes
}

func (u *User) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.notes == "" {
		u.notes = note
		return
	}
	u.notes += "\n" + note
}

func (u *User) Touch(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.After(u.lastSeen) {
		u.lastSeen = now
	}
}

func (u *User) LastSeen() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastSeen
}

// Absorb suma saldos y contadores de other, agrega identidades ausentes y concatena notas.
// Devuelve las identidades de other que chocaron con una ya presente (gana la de u).
// El llamador debe serializar las fusiones; other queda marcado como fusionado en u.
func (u *User) Absorb(other *User) []PlatformIdentity {
	if other == nil || other == u {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	var conflicts []PlatformIdentity
	for platform, identity := range other.identities {
		current, ok := u.identities[platform]
		if !ok {
			u.identities[platform] = cloneIdentity(identity)
			continue
		}
		if current.ID != identity.ID || !strings.EqualFold(current.Username, identity.Username) {
			conflicts = append(conflicts, cloneIdentity(identity))
		}
	}
	for id, amount := range other.currency {
		u.currency[id] += amount
	}
	for id, amount := range other.streamPass {
		u.streamPass[id] += amount
	}
	for name, value := range other.counters {
		u.counters[name] += value
	}
	for inv, items := range other.inventory {
		if u.inventory[inv] == nil {
			u.inventory[inv] = make(map[string]int64)
		}
		for item, amount := range items {
			u.inventory[inv][item] += amount
		}
	}
	if other.notes != "" {
		if u.notes == "" {
			u.notes = other.notes
		} else {
			u.notes += "\n" + other.notes
		}
	}
	if other.createdAt.Before(u.createdAt) && !other.createdAt.IsZero() {
		u.createdAt = other.createdAt
	}
	if other.lastSeen.After(u.lastSeen) {
		u.lastSeen = other.lastSeen
	}

	other.mergedInto = u.id
	other.survivor = u
	return conflicts
}

func cloneIdentity(identity PlatformIdentity) PlatformIdentity {
	identity.Roles = slices.Clone(identity.Roles)
	return identity
}

// UserRepository es la frontera de persistencia de usuarios.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]UserRecord, error)
	SaveUsers(ctx context.Context, users []UserRecord, removedIDs []string) error
}

// UserLookup consulta la API de la plataforma para desambiguar un nombre de usuario.
type UserLookup interface {
	LookupUser(ctx context.Context, platform Platform, username string) (PlatformIdentity, error)
}
