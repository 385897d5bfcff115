package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
)

type identityKey struct {
	platform domain.Platform
	value    string
}

type Config struct {
	Repo          domain.UserRepository
	Lookup        domain.UserLookup
	LookupTimeout time.Duration
	Logger        *zap.Logger
}

// Resolver es el dueño de todos los User del proceso. Los índices se protegen con mu,
// que nunca se mantiene durante una llamada de red.
type Resolver struct {
	repo          domain.UserRepository
	lookup        domain.UserLookup
	lookupTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string

	mu        sync.Mutex
	byID      map[string]*domain.User
	byPlatID  map[identityKey]*domain.User
	byName    map[identityKey]*domain.User
	redirects map[string]string
	removed   map[string]struct{}
}

func NewResolver(cfg Config) *Resolver {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{
		repo:          cfg.Repo,
		lookup:        cfg.Lookup,
		lookupTimeout: timeout,
		logger:        util.OrNop(cfg.Logger),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
		byID:          make(map[string]*domain.User),
		byPlatID:      make(map[identityKey]*domain.User),
		byName:        make(map[identityKey]*domain.User),
		redirects:     make(map[string]string),
		removed:       make(map[string]struct{}),
	}
}

// Load reemplaza el contenido en memoria con lo persistido.
func (r *Resolver) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	records, err := r.repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("users: load: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		user := domain.UserFromRecord(rec)
		r.byID[user.ID()] = user
		for _, identity := range rec.Identities {
			r.indexLocked(user, identity)
		}
	}
	r.logger.Info("users: loaded", zap.Int("count", len(records)))
	return nil
}

// Save persiste todos los usuarios y elimina los absorbidos por una fusión.
func (r *Resolver) Save(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	r.mu.Lock()
	users := make([]*domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, u)
	}
	removed := make([]string, 0, len(r.removed))
	for id := range r.removed {
		removed = append(removed, id)
	}
	r.mu.Unlock()

	records := make([]domain.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, u.Snapshot())
	}
	if err := r.repo.SaveUsers(ctx, records, removed); err != nil {
		return fmt.Errorf("users: save: %w", err)
	}

	r.mu.Lock()
	for _, id := range removed {
		delete(r.removed, id)
	}
	r.mu.Unlock()
	return nil
}

// Resolve busca por (plataforma, ID), luego por (plataforma, nombre) sin distinguir mayúsculas
// y si no encuentra nada crea un usuario nuevo. Sin ID ni coincidencia por nombre se consulta
// la API de la plataforma; si falla se devuelve un usuario no asociado.
func (r *Resolver) Resolve(ctx context.Context, platform domain.Platform, platformUserID, username string) *domain.User {
	platformUserID = strings.TrimSpace(platformUserID)
	username = strings.TrimSpace(username)

	if platformUserID == "" && username == "" {
		return domain.NewUnassociatedUser(platform, "", r.now())
	}

	if platformUserID != "" {
		return r.getOrCreate(domain.PlatformIdentity{
			Platform:    platform,
			ID:          platformUserID,
			Username:    username,
			DisplayName: username,
		})
	}

	if user := r.FindByUsername(platform, username); user != nil {
		return user
	}

	identity, ok := r.lookupIdentity(ctx, platform, username)
	if !ok {
		return domain.NewUnassociatedUser(platform, username, r.now())
	}
	return r.getOrCreate(identity)
}

// ResolveIdentity es Resolve más la actualización de los datos que trae la plataforma (roles, tier).
func (r *Resolver) ResolveIdentity(ctx context.Context, identity domain.PlatformIdentity) *domain.User {
	user := r.Resolve(ctx, identity.Platform, identity.ID, identity.Username)
	if user.IsUnassociated() {
		return user
	}
	user.SetIdentity(identity)
	r.reindex(user, identity)
	user.Touch(r.now())
	return user
}

func (r *Resolver) lookupIdentity(ctx context.Context, platform domain.Platform, username string) (domain.PlatformIdentity, bool) {
	if r.lookup == nil {
		return domain.PlatformIdentity{}, false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	identity, err := r.lookup.LookupUser(lookupCtx, platform, username)
	if err != nil || identity.ID == "" {
		r.logger.Warn("users: lookup failed, using unassociated user",
			zap.String("platform", string(platform)),
			zap.String("username", username),
			zap.Error(err),
		)
		return domain.PlatformIdentity{}, false
	}
	identity.Platform = platform
	return identity, true
}

func (r *Resolver) getOrCreate(identity domain.PlatformIdentity) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey{platform: identity.Platform, value: identity.ID}
	if user, ok := r.byPlatID[key]; ok {
		if identity.Username != "" {
			r.byName[nameKey(identity.Platform, identity.Username)] = user
		}
		return user
	}

	if identity.Username != "" {
		if user, ok := r.byName[nameKey(identity.Platform, identity.Username)]; ok {
			current, _ := user.Identity(identity.Platform)
			if current.ID == "" {
				user.SetIdentity(identity)
				r.byPlatID[key] = user
				return user
			}
		}
	}

	user := domain.NewUser(r.newID(), identity, r.now())
	r.byID[user.ID()] = user
	r.indexLocked(user, identity)
	r.logger.Debug("users: created",
		zap.String("id", user.ID()),
		zap.String("platform", string(identity.Platform)),
		zap.String("username", identity.Username),
	)
	return user
}

func (r *Resolver) reindex(user *domain.User, identity domain.PlatformIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID()]; !ok {
		return
	}
	r.indexLocked(user, identity)
}

func (r *Resolver) indexLocked(user *domain.User, identity domain.PlatformIdentity) {
	if identity.ID != "" {
		r.byPlatID[identityKey{platform: identity.Platform, value: identity.ID}] = user
	}
	if identity.Username != "" {
		r.byName[nameKey(identity.Platform, identity.Username)] = user
	}
}

// Get sigue las redirecciones dejadas por Merge.
func (r *Resolver) Get(id string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *Resolver) getLocked(id string) *domain.User {
	for i := 0; i < 16; i++ {
		if user, ok := r.byID[id]; ok {
			return user
		}
		next, ok := r.redirects[id]
		if !ok {
			return nil
		}
		id = next
	}
	return nil
}

func (r *Resolver) FindByPlatformID(platform domain.Platform, platformUserID string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPlatID[identityKey{platform: platform, value: platformUserID}]
}

func (r *Resolver) FindByUsername(platform domain.Platform, username string) *domain.User {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[nameKey(platform, username)]
}

func (r *Resolver) All() []*domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, u)
	}
	return out
}

func (r *Resolver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Merge absorbe secondary en primary: une identidades (gana primary), suma saldos y contadores,
// concatena notas y redirige cualquier referencia a secondary hacia primary.
func (r *Resolver) Merge(primaryID, secondaryID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	primary := r.getLocked(primaryID)
	secondary := r.getLocked(secondaryID)
	if primary == nil {
		return nil, fmt.Errorf("users: merge: primary %s not found", primaryID)
	}
	if secondary == nil {
		return nil, fmt.Errorf("users: merge: secondary %s not found", secondaryID)
	}
	if primary == secondary {
		return primary, nil
	}

	secondaryIdentities := secondary.Identities()
	conflicts := primary.Absorb(secondary)
	for _, identity := range conflicts {
		r.logger.Warn("users: merge conflict, primary identity kept",
			zap.String("primary", primary.ID()),
			zap.String("secondary", secondary.ID()),
			zap.String("platform", string(identity.Platform)),
			zap.String("platform_user_id", identity.ID),
		)
	}

	// Todas las identidades de secondary, incluidas las que chocaron, ahora resuelven a primary.
	for _, identity := range secondaryIdentities {
		r.indexLocked(primary, identity)
	}

	delete(r.byID, secondary.ID())
	r.redirects[secondary.ID()] = primary.ID()
	for from, to := range r.redirects {
		if to == secondary.ID() {
			r.redirects[from] = primary.ID()
		}
	}
	r.removed[secondary.ID()] = struct{}{}

	r.logger.Info("users: merged",
		zap.String("primary", primary.ID()),
		zap.String("secondary", secondary.ID()),
	)
	return primary, nil
}

func nameKey(platform domain.Platform, username string) identityKey {
	return identityKey{platform: platform, value: strings.ToLower(strings.TrimSpace(username))}
}
