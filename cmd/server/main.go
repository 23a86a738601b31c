// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/19tune/internal/api/connect"
	"github.com/osa030/19tune/internal/app/filter"
	"github.com/osa030/19tune/internal/app/library"
	"github.com/osa030/19tune/internal/app/playback"
	"github.com/osa030/19tune/internal/app/player"
	"github.com/osa030/19tune/internal/app/refresh"
	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/listener"
	"github.com/osa030/19tune/internal/domain/track"
	"github.com/osa030/19tune/internal/infra/cache"
	"github.com/osa030/19tune/internal/infra/catalogdb"
	"github.com/osa030/19tune/internal/infra/config"
	"github.com/osa030/19tune/internal/infra/lastfm"
	"github.com/osa030/19tune/internal/infra/logger"
	"github.com/osa030/19tune/internal/infra/output"
	"github.com/osa030/19tune/internal/infra/storage"
	"github.com/osa030/19tune/internal/infra/store"
)

// scrobbleMaxAge is how old a scrobble timestamp may be.
const scrobbleMaxAge = 14 * 24 * time.Hour

var (
	app        = kingpin.New("19tune-server", "19tune player server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")

	// migrate command
	migrateCmd = app.Command("migrate", "Create the player tables in the catalog database and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Logging starts on the console; rotation settings apply once the
	// config is loaded.
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if _, err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
		loggerConfig.MaxSizeMB = cfg.Log.MaxSizeMB
		loggerConfig.MaxBackups = cfg.Log.MaxBackups
		loggerConfig.MaxAgeDays = cfg.Log.MaxAgeDays
		loggerConfig.Compress = cfg.Log.Compress
		closer, err := logger.Init(loggerConfig)
		if err != nil {
			zlog.Fatal().Msgf("Failed to open log file: %v", err)
		}
		defer closer.Close()
	}

	if command == migrateCmd.FullCommand() {
		if err := migrate(cfg); err != nil {
			zlog.Error().Msgf("Migration failed: %v", err)
			os.Exit(1)
		}
		return
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

func migrate(cfg *config.Config) error {
	db, err := catalogdb.Open(databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer catalogdb.Close(db)
	if err := catalogdb.Migrate(db); err != nil {
		return err
	}
	zlog.Info().Msg("Migration completed")
	return nil
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	filters, err := buildFilters(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	resolver, err := storage.NewResolver(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Region:        cfg.Storage.Region,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Presign:       cfg.Storage.Presign,
		PresignExpiry: cfg.Storage.PresignExpiry(),
	})
	if err != nil {
		return fmt.Errorf("failed to create storage resolver: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := resolver.CheckBuckets(checkCtx, cfg.Storage.AudioBucket, cfg.Storage.CoverBucket); err != nil {
		zlog.Warn().Msgf("Storage check failed, URLs may not resolve: %v", err)
	}
	cancel()

	db, err := catalogdb.Open(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open catalog database: %w", err)
	}
	defer catalogdb.Close(db)

	var gateway catalog.Gateway = catalogdb.NewGateway(db, resolver)
	if cfg.Cache.Enabled {
		client, err := cache.Connect(ctx, cache.Config{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
		if err != nil {
			zlog.Warn().Msgf("Query cache disabled: %v", err)
		} else {
			defer closeRedis(client)
			gateway = cache.NewGateway(gateway, client, cfg.Cache.TTL())
			zlog.Info().Msgf("Query cache enabled: addr=%s ttl=%v", cfg.Cache.Addr, cfg.Cache.TTL())
		}
	}

	sessions, err := store.Open(store.Config{Path: cfg.Player.SessionDB, SaveDebounce: cfg.Player.SaveDebounce()})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	device, err := output.NewDevice(cfg.Audio.Type, cfg.Audio.Settings)
	if err != nil {
		_ = sessions.Close()
		return fmt.Errorf("failed to create audio device: %w", err)
	}

	normalizer := track.NewNormalizer(gateway, track.NormalizerConfig{
		AudioBucket:      cfg.Storage.AudioBucket,
		CoverBucket:      cfg.Storage.CoverBucket,
		PlaceholderCover: cfg.Catalog.PlaceholderCover,
		DefaultDuration:  cfg.Catalog.DefaultDuration(),
	})
	libraryStore := library.NewStore(cfg.Library.RecentlyPlayedLimit)
	deps := player.Deps{
		Engine: playback.NewEngine(device, playback.Config{InitialVolume: cfg.Player.InitialVolume}),
		Store:  libraryStore,
		Reconciler: library.NewReconciler(libraryStore, gateway, library.ReconcilerConfig{
			RollbackOnFailure: config.Bool(cfg.Library.RollbackOnFailure),
			Timeout:           cfg.Catalog.Timeout(),
		}),
		Refresher: refresh.NewOrchestrator(gateway, normalizer, libraryStore, refresh.Config{
			TrendingLimit:   cfg.Catalog.TrendingLimit,
			NewReleaseLimit: cfg.Catalog.NewReleaseLimit,
			PublishedOnly:   config.Bool(cfg.Catalog.PublishedOnly),
		}),
		Gateway:    gateway,
		Normalizer: normalizer,
		Filters:    filters,
		Sessions:   sessions,
	}

	if cfg.Lastfm.Enabled {
		client, err := lastfm.New(lastfm.Config{
			APIKey:     cfg.Lastfm.APIKey,
			APISecret:  cfg.Lastfm.APISecret,
			SessionKey: cfg.Lastfm.SessionKey,
			BaseURL:    cfg.Lastfm.BaseURL,
			Timeout:    cfg.Player.RemoteTimeout(),
		})
		if err != nil {
			_ = sessions.Close()
			return fmt.Errorf("failed to create Last.fm client: %w", err)
		}
		scrobbler := lastfm.NewScrobbler(client, sessions)
		deps.Scrobbler = scrobbler
		go scrobbler.RunRetryLoop(ctx, cfg.Lastfm.RetryInterval())
		go pruneScrobbles(ctx, sessions)
		zlog.Info().Msg("Last.fm scrobbling enabled")
	}

	p, err := player.New(player.Config{
		Identity:       listener.Identity{ID: cfg.Listener.UserID},
		SearchLimit:    cfg.Catalog.SearchLimit,
		RemoteTimeout:  cfg.Player.RemoteTimeout(),
		RefreshOnStart: config.Bool(cfg.Player.RefreshOnStart),
	}, deps)
	if err != nil {
		_ = sessions.Close()
		return fmt.Errorf("failed to create player: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close()
		return fmt.Errorf("failed to start player: %w", err)
	}

	mux := http.NewServeMux()
	path, handler := apiconnect.NewPlayerService(p).Handler(
		connect.WithInterceptors(apiconnect.NewAuthInterceptor(cfg.Server.APIToken)),
	)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Give the server a moment to start listening
	time.Sleep(100 * time.Millisecond)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close the player first so subscription streams end
	if err := p.Close(); err != nil {
		zlog.Error().Msgf("Failed to close player: %v", err)
	}
	stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return runErr
}

// pruneScrobbles drops queued scrobbles Last.fm would reject as too old.
func pruneScrobbles(ctx context.Context, sessions *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := sessions.DeleteOldPendingScrobbles(ctx, scrobbleMaxAge)
		if err != nil {
			zlog.Warn().Msgf("Failed to prune pending scrobbles: %v", err)
		} else if n > 0 {
			zlog.Info().Msgf("Pruned %d expired pending scrobbles", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func databaseConfig(cfg *config.Config) catalogdb.Config {
	return catalogdb.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		LogLevel:        cfg.Database.LogLevel,
	}
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		zlog.Warn().Msgf("Failed to close redis client: %v", err)
	}
}

// buildFilters creates the queue admission chain from the enabled filters.
func buildFilters(cfg *config.Config) (*filter.Chain, error) {
	names := cfg.EnabledFilters()
	specs := make([]filter.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, filter.Spec{Name: name, Settings: cfg.Filters[name].Settings})
	}
	return filter.Build(specs)
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registered := filter.GetRegistered()
	for _, name := range filter.Names() {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
