package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/draft"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	logger     *zap.Logger
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "session-planner",
		Short: "Physio session planner",
		Long:  "Plan recurring physiotherapy sessions, duplicate them in the backend and keep form drafts",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load config to get log file path
			cfg, err := config.Load(configPath)
			if err == nil && cfg.Log.File != "" {
				logger, err = initFileLogger(cfg.Log.File, cfg.Log.Level)
				if err != nil {
					initLogger() // Fallback to console
				}
			} else {
				initLogger() // Default console logger
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(duplicateCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(dayCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(draftsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config file, expanding secrets from the environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ExpandEnvVars()
	return cfg, nil
}

// loadOptionalConfig is used by commands that also work without backend access
func loadOptionalConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		logger.Debug("Running without config", zap.Error(err))
		return nil
	}
	return cfg
}

func initializeCalendar(cfg config.CalendarConfig) (calendar.Calendar, error) {
	calType := cfg.Type
	if calType == "" {
		calType = config.CalendarPublicHolidays // Default
	}

	switch calType {
	case config.CalendarPublicHolidays:
		logger.Info("Using public holidays calendar API",
			zap.String("zone", cfg.Zone))
		primaryCal := calendar.NewPublicHolidayCalendar(
			cfg.APIURL,
			cfg.Zone,
			cfg.GetCacheTTL(),
			logger,
		)
		if cfg.FallbackFile == "" {
			return primaryCal, nil
		}

		fallbackCal := calendar.NewFileCalendar(cfg.FallbackFile, logger)
		compositeCal := calendar.NewCompositeCalendar(primaryCal, fallbackCal, logger)

		// Load fallback calendar
		if err := compositeCal.LoadFallback(); err != nil {
			logger.Warn("Failed to load fallback calendar, continuing with API only",
				zap.Error(err))
		}
		return compositeCal, nil

	case config.CalendarFile:
		logger.Info("Using file calendar", zap.String("file", cfg.FallbackFile))
		fileCal := calendar.NewFileCalendar(cfg.FallbackFile, logger)
		if err := fileCal.Load(); err != nil {
			return nil, fmt.Errorf("failed to load calendar file: %w", err)
		}
		return fileCal, nil

	case config.CalendarNone:
		return calendar.NoClosures{}, nil

	default:
		return nil, fmt.Errorf("unknown calendar type: %s", calType)
	}
}

// initializeBackend returns the backend client and a stop function for its token refresher
func initializeBackend(cfg config.BackendConfig) (*backend.Client, func(), error) {
	tokenManager := backend.NewTokenManager(
		cfg.URL,
		cfg.AnonKey,
		cfg.Email,
		cfg.Password,
		cfg.RefreshToken,
		cfg.GetRefreshInterval(),
		logger,
	)

	if err := tokenManager.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start token manager: %w", err)
	}

	client := backend.NewClient(
		cfg.URL,
		cfg.AnonKey,
		cfg.SessionsTable,
		cfg.GetTimeout(),
		tokenManager,
		logger,
	)

	return client, tokenManager.Stop, nil
}

// initializeDrafts opens the draft database; the returned function closes it
func initializeDrafts(cfg config.DraftsConfig) (*draft.Manager, func(), error) {
	db, err := draft.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	manager := draft.NewManager(draft.NewSQLiteStore(db), cfg.GetTTL(), logger)
	return manager, func() { db.Close() }, nil
}

func initLogger() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var err error
	logger, err = config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
}

func initFileLogger(logFile string, level string) (*zap.Logger, error) {
	// Setup lumberjack for log rotation
	logWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,  // MB
		MaxBackups: 3,    // Keep max 3 old log files
		MaxAge:     28,   // days
		Compress:   true, // Compress old logs with gzip
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(logWriter),
		zapLevel,
	)

	return zap.New(core), nil
}

func getIcon(dryRun bool) string {
	if dryRun {
		return "📋"
	}
	return "✅"
}
