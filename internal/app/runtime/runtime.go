// Package runtime arma todas las piezas del bot y las ejecuta hasta que el contexto termina.
package runtime

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"streamBot/internal/app"
	"streamBot/internal/app/events"
	ttsruntime "streamBot/internal/app/tts/runner"
	"streamBot/internal/domain"
	"streamBot/internal/infrastructure/cache"
	"streamBot/internal/infrastructure/config"
	sqlitestorage "streamBot/internal/infrastructure/persistence/sqlite"
	twitchinfra "streamBot/internal/infrastructure/platform/twitch"
	"streamBot/internal/infrastructure/social"
	"streamBot/internal/interface/adapters/bridge"
	twitchadapter "streamBot/internal/interface/adapters/twitch"
	ws "streamBot/internal/interface/api/ws"
	"streamBot/internal/interface/outs"
	"streamBot/internal/usecase/actions"
	"streamBot/internal/usecase/admission"
	"streamBot/internal/usecase/autosave"
	"streamBot/internal/usecase/commands"
	"streamBot/internal/usecase/currency"
	"streamBot/internal/usecase/giftsubs"
	"streamBot/internal/usecase/ingest"
	"streamBot/internal/usecase/moderation"
	"streamBot/internal/usecase/notifications"
	"streamBot/internal/usecase/pipeline"
	ttsusecase "streamBot/internal/usecase/tts"
	"streamBot/internal/usecase/users"
	"streamBot/internal/util"
)

type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	store  *sqlitestorage.Store
	recent *cache.RecentIDStore
	bus    *events.Bus

	resolver   *users.Resolver
	ledger     *currency.Ledger
	commands   *commands.Manager
	counters   *actions.Counters
	dispatcher *commands.Dispatcher
	gifts      *giftsubs.Reconciler
	interactor *pipeline.Interactor

	platform  *app.PlatformManager
	ttsRunner *ttsruntime.Runner
	autosaver *autosave.Autosaver
	server    *ws.Server
}

// New construye el grafo completo y carga el estado persistido. Si falla, libera lo abierto.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Runtime, err error) {
	logger = util.OrNop(logger)
	r := &Runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	r.store, err = sqlitestorage.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	r.bus = events.NewBus(logger)
	publisher := events.NewPublisher(r.bus)
	alerts := outs.NewAlertFanout(r.store, logger, publisher)

	senders := outs.NewMultiSender()
	moderators := outs.NewMultiModerator()
	lookups := outs.NewMultiLookup()
	sources := r.platformSources(senders, moderators, lookups)

	r.resolver = users.NewResolver(users.Config{
		Repo:          r.store,
		Lookup:        lookups,
		LookupTimeout: cfg.Pipeline.UserLookupTimeout,
		Logger:        logger,
	})
	r.ledger = currency.NewLedger(r.store, r.resolver, logger)
	r.commands = commands.NewManager(r.store)
	r.counters = actions.NewCounters(r.store)

	dedup, err := r.deduper(ctx)
	if err != nil {
		return nil, err
	}
	normalizer := ingest.NewNormalizer(r.resolver, dedup, logger)

	filter := moderation.NewFilter(moderation.Config{
		BannedWords: cfg.Moderation.BannedWords,
		BlockLinks:  cfg.Moderation.BlockLinks,
		ExemptRole:  domain.CommandAccessModerators,
		Logger:      logger,
	})
	gate, err := admission.New(admission.Config{
		Quotas:     map[domain.EventKind]int{domain.EventFollow: cfg.Pipeline.FollowMaxInQueue},
		Moderation: filter,
		Awards:     r.ledger,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	ttsService := ttsusecase.NewService(ttsusecase.Config{Repo: r.store, Logger: logger})
	var player ttsruntime.Player
	if cfg.TTS.LocalPlayback {
		player = ttsruntime.NewSpeakerPlayer()
	}
	r.ttsRunner = ttsruntime.New(ttsruntime.Config{
		Synth:     ttsService,
		Player:    player,
		Bus:       r.bus,
		QueueSize: cfg.TTS.QueueSize,
		Logger:    logger,
	})
	ttsService.SetQueue(r.ttsRunner)
	var speech domain.SpeechQueue
	if cfg.TTS.Enabled {
		speech = ttsService
	}

	executor := actions.NewExecutor(actions.Config{
		Out:       senders,
		Moderator: moderators,
		Users:     r.resolver,
		Wallet:    r.ledger,
		Counters:  r.counters,
		Speech:    speech,
		Alerts:    alerts,
		Social:    social.NewWebhookPoster(cfg.Social.WebhookURL, &http.Client{Timeout: 10 * time.Second}, logger),
		Logger:    logger,
	})
	r.dispatcher = commands.NewDispatcher(commands.DispatcherConfig{
		Runner:        executor,
		Wallet:        r.ledger,
		Out:           senders,
		MaxConcurrent: cfg.Dispatcher.MaxConcurrent,
		QueueSize:     cfg.Dispatcher.QueueSize,
		Logger:        logger,
	})

	r.interactor = pipeline.NewInteractor(pipeline.Config{
		Normalizer: normalizer,
		Gate:       gate,
		Matcher:    r.commands,
		Dispatcher: r.dispatcher,
		Notifier:   notifications.NewEventLogger(alerts, logger),
		Sink:       publisher,
		Logger:     logger,
	})
	r.gifts = giftsubs.New(giftsubs.Config{
		Threshold: cfg.Pipeline.MassGiftThreshold,
		Interval:  cfg.Pipeline.GiftFlushInterval,
		Handler:   r.interactor,
		Logger:    logger,
	})
	r.interactor.SetGiftBuffer(r.gifts)

	r.platform = app.NewPlatformManager(app.ManagerConfig{
		Handler: r.interactor,
		Policy: app.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Delay:       cfg.Reconnect.Delay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
			Backoff:     app.Backoff(cfg.Reconnect.Backoff),
			ResetAfter:  cfg.Reconnect.ResetAfter,
		},
		Status: publisher,
		Logger: logger,
	})
	for _, src := range sources {
		r.platform.Register(src)
	}

	r.autosaver = autosave.New(logger)
	r.autosaver.Register("users", r.resolver.Save)
	r.autosaver.Register("currencies", r.ledger.Save)
	r.autosaver.Register("counters", r.counters.Save)
	r.autosaver.Register("commands", r.commands.Save)

	r.server = ws.NewServer(ws.Config{
		Addr:      cfg.Server.Addr,
		Bus:       r.bus,
		Alerts:    r.store,
		TTS:       ttsService,
		TTSStatus: r.ttsRunner,
		Commands:  r.commands,
		Platforms: r.platform,
		Logger:    logger,
	})

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// platformSources crea los adapters configurados y los registra en los enrutadores de salida.
func (r *Runtime) platformSources(senders *outs.MultiSender, moderators *outs.MultiModerator, lookups *outs.MultiLookup) []app.Source {
	cfg := r.cfg
	var sources []app.Source

	if cfg.Twitch.ChatEnabled() {
		twitchAd := twitchadapter.NewAdapter(twitchadapter.Config{
			Username:   cfg.Twitch.Username,
			OAuthToken: cfg.Twitch.Token,
			Channels:   cfg.Twitch.Channels,
			Logger:     r.logger,
		})
		senders.Register(domain.PlatformTwitch, twitchAd)
		sources = append(sources, twitchAd)
	}
	if cfg.Twitch.APIEnabled() {
		helixSvc, err := twitchinfra.NewHelixService(twitchinfra.Config{
			ClientID:        cfg.Twitch.ClientID,
			UserAccessToken: cfg.Twitch.APIToken,
			BroadcasterID:   cfg.Twitch.BroadcasterID,
			ModeratorID:     cfg.Twitch.ModeratorID,
			Logger:          r.logger,
		})
		if err != nil {
			r.logger.Warn("runtime: helix disabled", zap.Error(err))
		} else {
			moderators.Register(domain.PlatformTwitch, helixSvc)
			lookups.Register(domain.PlatformTwitch, helixSvc)
		}
	}

	relays := []struct {
		platform domain.Platform
		url      string
	}{
		{domain.PlatformTrovo, cfg.Bridges.TrovoURL},
		{domain.PlatformYouTube, cfg.Bridges.YouTubeURL},
		{domain.PlatformGlimesh, cfg.Bridges.GlimeshURL},
	}
	for _, relay := range relays {
		if relay.url == "" {
			continue
		}
		ad := bridge.NewAdapter(bridge.Config{
			Platform: relay.platform,
			URL:      relay.url,
			Token:    cfg.Bridges.Token,
			Logger:   r.logger,
		})
		senders.Register(relay.platform, ad)
		moderators.Register(relay.platform, ad)
		sources = append(sources, ad)
	}

	if len(sources) == 0 {
		r.logger.Warn("runtime: no platform configured")
	}
	return sources
}

// deduper usa redis si está configurado y cae al LRU en memoria si no responde.
func (r *Runtime) deduper(ctx context.Context) (ingest.Deduper, error) {
	if r.cfg.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, cache.Config{
			Addr:     r.cfg.Redis.Addr,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
		}, r.logger)
		if err == nil {
			r.recent = cache.NewRecentIDStore(client, r.cfg.Redis.DedupTTL, r.logger)
			return r.recent, nil
		}
		r.logger.Warn("runtime: redis unavailable, using in-memory dedup", zap.Error(err))
	}
	lru, err := ingest.NewLRUDeduper(r.cfg.Pipeline.DedupSize)
	if err != nil {
		return nil, err
	}
	return lru, nil
}

func (r *Runtime) load(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"users", r.resolver.Load},
		{"currencies", r.ledger.Load},
		{"commands", r.commands.Load},
		{"counters", r.counters.Load},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			r.logger.Error("runtime: load failed", zap.String("state", step.name), zap.Error(err))
			return err
		}
	}
	r.logger.Info("runtime: state loaded",
		zap.Int("commands", len(r.commands.List())),
		zap.Int("currencies", len(r.ledger.Currencies())),
	)
	return nil
}

// Run ejecuta los workers hasta que ctx termina o alguno falla. El guardado final lo hace
// el autosaver al cerrarse.
func (r *Runtime) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(r.dispatcher.Run)
	p.Go(r.gifts.Run)
	p.Go(r.ttsRunner.Run)
	p.Go(r.platform.Run)
	p.Go(r.server.Start)
	p.Go(func(ctx context.Context) error {
		return r.autosaver.Run(ctx, r.cfg.Storage.AutosaveInterval)
	})

	r.logger.Info("runtime: started", zap.Any("platforms", r.platform.Platforms()))
	err := p.Wait()
	if stderrors.Is(err, context.Canceled) {
		err = nil
	}
	r.logger.Info("runtime: stopped")
	return err
}

// Close libera los recursos externos. Es seguro llamarlo sobre un Runtime a medio armar.
func (r *Runtime) Close() error {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.recent != nil {
		if err := r.recent.Close(); err != nil {
			r.logger.Warn("runtime: redis close failed", zap.Error(err))
		}
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

func (r *Runtime) Bus() *events.Bus {
	return r.bus
}
