package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/pkgreg/internal/registrykit"
	"github.com/tyemirov/pkgreg/internal/registrypg"
	"github.com/tyemirov/pkgreg/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pkgreg",
		Short:   "Package registry account service with GitHub sign-in, API tokens, and the followed-package feed",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("github_client_id", "", "GitHub OAuth application client id")
	rootCmd.Flags().String("github_client_secret", "", "GitHub OAuth application client secret")
	rootCmd.Flags().String("github_redirect_url", "", "Callback URL registered with the GitHub application")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for the session cookie")
	rootCmd.Flags().Duration("session_ttl", 30*24*time.Hour, "Session cookie TTL")
	rootCmd.Flags().Duration("state_ttl", 5*time.Minute, "Handshake state lifetime")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Account database URL (postgres:// or sqlite://; leave empty for in-memory sqlite)")
	rootCmd.Flags().String("registry_database_url", "", "Read-only registry database URL (postgres://; leave empty for in-memory package data)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("github_client_id", rootCmd.Flags().Lookup("github_client_id"))
	_ = viper.BindPFlag("github_client_secret", rootCmd.Flags().Lookup("github_client_secret"))
	_ = viper.BindPFlag("github_redirect_url", rootCmd.Flags().Lookup("github_redirect_url"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("state_ttl", rootCmd.Flags().Lookup("state_ttl"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("registry_database_url", rootCmd.Flags().Lookup("registry_database_url"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "pkgreg_session"
	sessionIssuer     = "pkgreg"

	defaultAccountDatabaseURL = "sqlite://file::memory:?cache=shared"

	configCodeMissingGitHubClientID     = "config.missing_github_client_id"
	configCodeMissingGitHubClientSecret = "config.missing_github_client_secret"
	configCodeMissingJWTSigningKey      = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL         = "config.invalid_session_ttl"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (registrykit.ServerConfig, error) {
	githubClientID := viper.GetString("github_client_id")
	if githubClientID == "" {
		return registrykit.ServerConfig{}, configError(configCodeMissingGitHubClientID, "github_client_id must be provided")
	}

	githubClientSecret := viper.GetString("github_client_secret")
	if githubClientSecret == "" {
		return registrykit.ServerConfig{}, configError(configCodeMissingGitHubClientSecret, "github_client_secret must be provided")
	}

	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return registrykit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return registrykit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	stateTTL := 5 * time.Minute
	if configuredStateTTL := viper.GetDuration("state_ttl"); configuredStateTTL > 0 {
		stateTTL = configuredStateTTL
	}

	return registrykit.ServerConfig{
		GitHubClientID:     githubClientID,
		GitHubClientSecret: githubClientSecret,
		GitHubRedirectURL:  viper.GetString("github_redirect_url"),
		SessionSigningKey:  []byte(jwtSigningKey),
		SessionIssuer:      sessionIssuer,
		CookieDomain:       viper.GetString("cookie_domain"),
		SessionCookieName:  sessionCookieName,
		SessionTTL:         sessionTTL,
		StateTTL:           stateTTL,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(registrykit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	registryDatabaseURL := viper.GetString("registry_database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	if databaseURL == "" {
		databaseURL = defaultAccountDatabaseURL
		logger.Info("using in-memory account database")
	}
	accountStore, storeErr := registrykit.NewDatabaseAccountStore(command.Context(), databaseURL)
	if storeErr != nil {
		return storeErr
	}
	logger.Info("account store ready", zap.String("driver", accountStore.Driver()))

	var packageRepository registrykit.PackageRepository
	if registryDatabaseURL != "" {
		pool, poolErr := registrypg.BuildPool(command.Context(), registryDatabaseURL)
		if poolErr != nil {
			return poolErr
		}
		defer pool.Close()
		if schemaErr := registrypg.EnsureSchema(command.Context(), pool); schemaErr != nil {
			return schemaErr
		}
		packageRepository = registrypg.NewPostgresPackageRepository(pool)
		logger.Info("using postgres package repository")
	} else {
		packageRepository = registrykit.NewMemoryPackageRepository()
		logger.Info("using in-memory package repository")
	}

	serverConfig.AllowInsecureHTTP = devInsecureHTTP
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	stateStore := registrykit.NewMemoryStateStore(serverConfig.StateTTL)
	provider := registrykit.NewGitHubProvider(serverConfig.GitHubClientID, serverConfig.GitHubClientSecret, serverConfig.GitHubRedirectURL)
	feedService := registrykit.NewFeedService(accountStore, packageRepository)
	metricsRecorder := registrykit.NewCounterMetrics()

	registrykit.MountRegistryRoutes(router, serverConfig, registrykit.RouteDependencies{
		Logger:   logger,
		Users:    accountStore,
		Tokens:   accountStore,
		Follows:  accountStore,
		Packages: packageRepository,
		States:   stateStore,
		Provider: provider,
		Feed:     feedService,
		Metrics:  metricsRecorder,
	})

	protected := router.Group("", registrykit.RequireUser(serverConfig, accountStore))
	protected.GET("/me", web.HandleWhoAmI(logger, accountStore))

	router.GET("/api/v1/users/:login", web.HandleUserProfile(logger, accountStore))
	router.GET("/api/v1/users/:login/stats", web.HandleUserStats(logger, feedService))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
