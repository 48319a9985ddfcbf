package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/apexauth/internal/auth"
	"github.com/hitoshi/apexauth/internal/config"
	"github.com/hitoshi/apexauth/internal/database"
	"github.com/hitoshi/apexauth/internal/handler"
	"github.com/hitoshi/apexauth/internal/logger"
	"github.com/hitoshi/apexauth/internal/metrics"
	"github.com/hitoshi/apexauth/internal/middleware"
	"github.com/hitoshi/apexauth/internal/repository"
	"github.com/hitoshi/apexauth/internal/security"
	"github.com/hitoshi/apexauth/internal/worker/cleanup"
)

// federatedProviderName はidentitiesに記録するIdP名。
const federatedProviderName = "google"

// localUsernameField はローカルログインのリクエストでメールアドレスを受け取るキー。
const localUsernameField = "email"

// idpRequestTimeout はIdPへの1リクエストあたりのタイムアウト。
const idpRequestTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込みのエラーを出力できるよう、先にinfoレベルで初期化しておく
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "4003"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("app_env", cfg.AppEnv),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := newSessionStore(cfg, db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router, err := buildRouter(cfg, routerComponents{
		db:          db,
		store:       store,
		collector:   collector,
		gatherer:    reg,
		rateLimiter: rateLimiter,
		guard:       security.NewEndpointGuard(),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// メモリストアは他プロセスから掃除できないため、サーバー内でクリーンアップする
	if cfg.SessionStore == config.SessionStoreMemory {
		job := cleanup.NewCleanupJob(store, collector, slog.Default())
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("front_web_url", cfg.FrontWebURL),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// routerComponents はbuildRouterに渡すプロセス単位の部品。
type routerComponents struct {
	db          *sql.DB
	store       repository.SessionStore
	collector   *metrics.Collector
	gatherer    prometheus.Gatherer
	rateLimiter *middleware.RateLimiter
	guard       security.EndpointGuard
}

// buildRouter は認証サービスを組み立て、HTTPルーターを返す。
// IdPエンドポイントの検証に失敗した場合はエラーを返す。
func buildRouter(cfg *config.Config, c routerComponents) (http.Handler, error) {
	accounts := repository.NewPostgresAccountRepo(c.db)
	identities := repository.NewPostgresIdentityRepo(c.db)

	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	names := security.NewProfileSanitizer()

	oidcConfig := auth.StrategyConfig{
		Issuer:       cfg.OIDCIssuer,
		AuthURL:      cfg.OIDCAuthURL,
		TokenURL:     cfg.OIDCTokenURL,
		UserInfoURL:  cfg.OIDCUserInfoURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
		Scopes:       cfg.OIDCScopes,
	}
	for _, endpoint := range []string{oidcConfig.TokenURL, oidcConfig.UserInfoURL} {
		if err := c.guard.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid identity provider endpoint: %w", err)
		}
	}
	idp := auth.NewOIDCProvider(federatedProviderName, oidcConfig, c.guard.NewSafeClient(idpRequestTimeout))

	registry := auth.NewRegistry()
	registry.Register(auth.StrategyLocal, auth.StrategyConfig{UsernameField: localUsernameField},
		auth.NewLocalStrategy(accounts, hasher))
	registry.Register(auth.StrategyFederated, idp.Config(),
		auth.NewFederatedStrategy(accounts, identities, names, c.collector))

	sessions := auth.NewSessionManager(c.store,
		auth.WithTTL(cfg.SessionMaxAge),
		auth.WithResave(cfg.SessionResave),
	)

	authService := auth.NewService(auth.ServiceDeps{
		Registry: registry,
		Sessions: sessions,
		Accounts: accounts,
		Hasher:   hasher,
		Names:    names,
		IdP:      idp,
		Metrics:  c.collector,
	})

	slog.Info("authentication strategies registered",
		slog.Any("strategies", registry.Names()),
		slog.Int("bcrypt_cost", hasher.Cost()),
		slog.Duration("session_ttl", authService.SessionTTL()),
	)

	localConfig, _ := registry.Config(auth.StrategyLocal)
	slog.Debug("local strategy configured", slog.String("username_field", localConfig.UsernameField))

	var metricsHandler http.Handler
	if c.gatherer != nil {
		metricsHandler = metrics.Handler(c.gatherer)
	}

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionResolver:   authService,
		CORSAllowedOrigin: cfg.FrontWebURL,
		RateLimiter:       c.rateLimiter,
		Metrics:           c.collector,
		AuthService:       authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontWebURL,
			UsernameField: localConfig.UsernameField,
			Cookie: middleware.CookieConfig{
				Name:   middleware.DefaultSessionCookieName,
				Secure: cfg.IsProduction(),
				MaxAge: authService.SessionTTL(),
			},
			Signer: security.NewCookieSigner(cfg.SessionSecret),
		},
		MetricsHandler: metricsHandler,
		HealthCheck:    database.Pinger(c.db),
	}), nil
}

// newSessionStore はSESSION_STOREに応じたセッションストアを返す。
func newSessionStore(cfg *config.Config, db *sql.DB) repository.SessionStore {
	if cfg.SessionStore == config.SessionStoreMemory {
		slog.Warn("using in-memory session store; sessions are lost on restart and not shared between instances")
		return repository.NewMemorySessionStore(nil)
	}
	return repository.NewPostgresSessionRepo(db)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Pinger(db)(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップをSESSION_CLEANUP_INTERVAL間隔で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreMemory {
		return fmt.Errorf("worker mode requires SESSION_STORE=%s", config.SessionStorePostgres)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたは "up" で未適用分をすべて適用し、"down [n]" でn件戻し、"version" で現在のバージョンを表示する。
func runMigrate(cfg *config.Config, args []string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("current schema version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %q", action)
	}

	slog.Info("database migrations completed successfully", slog.String("action", action))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
