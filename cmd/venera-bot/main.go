package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/bebias/venera-bot/internal/api"
	"github.com/bebias/venera-bot/internal/burst"
	"github.com/bebias/venera-bot/internal/genai"
	"github.com/bebias/venera-bot/internal/kvstore"
	"github.com/bebias/venera-bot/internal/messenger"
	"github.com/bebias/venera-bot/internal/store"
	"github.com/bebias/venera-bot/internal/tasks"
	"github.com/joho/godotenv"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Build module options
	kvOpts := buildKVStoreOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	msgOpts := buildMessengerOptions(flags)
	burstOpts := buildBurstOptions(flags)
	schedOpts := buildSchedulerOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping venera-bot with configured modules")
	slog.Debug("Module options counts",
		"kvstore", len(kvOpts), "store", len(storeOpts), "genai", len(genaiOpts),
		"messenger", len(msgOpts), "burst", len(burstOpts), "scheduler", len(schedOpts), "api", len(apiOpts))
	if err := api.Run(kvOpts, storeOpts, genaiOpts, msgOpts, burstOpts, schedOpts, apiOpts); err != nil {
		slog.Error("venera-bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("venera-bot exited successfully")
}

// Config holds environment configuration
type Config struct {
	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string
	OpenAIKey      string
	OpenAIModel    string
	PageToken      string
	VerifyToken    string
	SchedulerURL   string
	SchedulerToken string
	CallbackURL    string
	CallbackSecret string
	TriggerURL     string
	Debounce       string
	Threshold      string
	APIAddr        string
}

// Flags holds command line flag values
type Flags struct {
	redisAddr      *string
	redisPassword  *string
	dbDSN          *string
	openaiKey      *string
	openaiModel    *string
	pageToken      *string
	verifyToken    *string
	schedulerURL   *string
	schedulerToken *string
	callbackURL    *string
	callbackSecret *string
	triggerURL     *string
	debounce       *string
	threshold      *string
	apiAddr        *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		PageToken:      os.Getenv("PAGE_ACCESS_TOKEN"),
		VerifyToken:    os.Getenv("VERIFY_TOKEN"),
		SchedulerURL:   os.Getenv("SCHEDULER_URL"),
		SchedulerToken: os.Getenv("SCHEDULER_TOKEN"),
		CallbackURL:    os.Getenv("CALLBACK_URL"),
		CallbackSecret: os.Getenv("CALLBACK_SECRET"),
		TriggerURL:     os.Getenv("TRIGGER_URL"),
		Debounce:       os.Getenv("DEBOUNCE_INTERVAL"),
		Threshold:      os.Getenv("RESOLUTION_THRESHOLD"),
		APIAddr:        os.Getenv("API_ADDR"),
	}

	slog.Debug("environment variables loaded",
		"REDIS_ADDR", config.RedisAddr,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"PAGE_ACCESS_TOKEN_SET", config.PageToken != "",
		"VERIFY_TOKEN_SET", config.VerifyToken != "",
		"SCHEDULER_URL", config.SchedulerURL,
		"SCHEDULER_TOKEN_SET", config.SchedulerToken != "",
		"CALLBACK_URL", config.CallbackURL,
		"CALLBACK_SECRET_SET", config.CallbackSecret != "",
		"TRIGGER_URL", config.TriggerURL,
		"DEBOUNCE_INTERVAL", config.Debounce,
		"RESOLUTION_THRESHOLD", config.Threshold,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		redisAddr:      flag.String("redis-addr", config.RedisAddr, "Redis address for burst state (overrides $REDIS_ADDR)"),
		redisPassword:  flag.String("redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation storage (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		pageToken:      flag.String("page-token", config.PageToken, "Messenger page access token (overrides $PAGE_ACCESS_TOKEN)"),
		verifyToken:    flag.String("verify-token", config.VerifyToken, "Messenger webhook verification token (overrides $VERIFY_TOKEN)"),
		schedulerURL:   flag.String("scheduler-url", config.SchedulerURL, "delayed push scheduler base URL (overrides $SCHEDULER_URL)"),
		schedulerToken: flag.String("scheduler-token", config.SchedulerToken, "delayed push scheduler auth token (overrides $SCHEDULER_TOKEN)"),
		callbackURL:    flag.String("callback-url", config.CallbackURL, "publicly reachable burst-resolution callback URL (overrides $CALLBACK_URL)"),
		callbackSecret: flag.String("callback-secret", config.CallbackSecret, "shared secret for callback signatures (overrides $CALLBACK_SECRET)"),
		triggerURL:     flag.String("trigger-url", config.TriggerURL, "remote webhook URL for settled-turn triggers (overrides $TRIGGER_URL)"),
		debounce:       flag.String("debounce-interval", config.Debounce, "burst debounce interval, e.g. 3s (overrides $DEBOUNCE_INTERVAL)"),
		threshold:      flag.String("resolution-threshold", config.Threshold, "burst resolution threshold, e.g. 10s (overrides $RESOLUTION_THRESHOLD)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"redisAddr", *flags.redisAddr,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"pageTokenSet", *flags.pageToken != "",
		"schedulerURL", *flags.schedulerURL,
		"callbackURL", *flags.callbackURL,
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildKVStoreOptions constructs key-value store configuration options
func buildKVStoreOptions(flags Flags) []kvstore.Option {
	var kvOpts []kvstore.Option
	if *flags.redisAddr != "" {
		kvOpts = append(kvOpts, kvstore.WithAddr(*flags.redisAddr))
	}
	if *flags.redisPassword != "" {
		kvOpts = append(kvOpts, kvstore.WithPassword(*flags.redisPassword))
	}
	return kvOpts
}

// buildStoreOptions constructs conversation store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		slog.Debug("Database DSN provided", "dsn_type", store.DetectDSNType(*flags.dbDSN))
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildMessengerOptions constructs Messenger client configuration options
func buildMessengerOptions(flags Flags) []messenger.Option {
	var msgOpts []messenger.Option
	if *flags.pageToken != "" {
		msgOpts = append(msgOpts, messenger.WithPageToken(*flags.pageToken))
	}
	return msgOpts
}

// buildBurstOptions constructs burst tracker configuration options
func buildBurstOptions(flags Flags) []burst.Option {
	var burstOpts []burst.Option
	if d := parseDurationFlag("debounce-interval", *flags.debounce); d > 0 {
		burstOpts = append(burstOpts, burst.WithDebounce(d))
	}
	if d := parseDurationFlag("resolution-threshold", *flags.threshold); d > 0 {
		burstOpts = append(burstOpts, burst.WithThreshold(d))
	}
	return burstOpts
}

// buildSchedulerOptions constructs delayed scheduler configuration options
func buildSchedulerOptions(flags Flags) []tasks.Option {
	var schedOpts []tasks.Option
	if *flags.schedulerURL != "" {
		schedOpts = append(schedOpts, tasks.WithBaseURL(*flags.schedulerURL))
	}
	if *flags.schedulerToken != "" {
		schedOpts = append(schedOpts, tasks.WithToken(*flags.schedulerToken))
	}
	if *flags.callbackURL != "" {
		schedOpts = append(schedOpts, tasks.WithCallbackURL(*flags.callbackURL))
	}
	if *flags.callbackSecret != "" {
		schedOpts = append(schedOpts, tasks.WithSecret(*flags.callbackSecret))
	}
	return schedOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	if *flags.callbackSecret != "" {
		apiOpts = append(apiOpts, api.WithCallbackSecret(*flags.callbackSecret))
	}
	if *flags.triggerURL != "" {
		apiOpts = append(apiOpts, api.WithTriggerURL(*flags.triggerURL))
	}
	return apiOpts
}

// parseDurationFlag parses a duration value, logging and ignoring bad input.
func parseDurationFlag(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration value, using default", "flag", name, "value", value, "error", err)
		return 0
	}
	return d
}
