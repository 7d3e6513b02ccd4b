package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mantrakit/mantrakit/internal/api"
	"github.com/mantrakit/mantrakit/internal/flow"
	"github.com/mantrakit/mantrakit/internal/genai"
	"github.com/mantrakit/mantrakit/internal/lockfile"
	"github.com/mantrakit/mantrakit/internal/messages"
	"github.com/mantrakit/mantrakit/internal/messaging"
	"github.com/mantrakit/mantrakit/internal/scheduler"
	"github.com/mantrakit/mantrakit/internal/store"
	"github.com/mantrakit/mantrakit/internal/transcribe"
	"github.com/mantrakit/mantrakit/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for mantrakit state data
	DefaultStateDir = "/var/lib/mantrakit"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "mantrakit.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping mantrakit with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := run(flags); err != nil {
		slog.Error("mantrakit failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("mantrakit exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	APIAddr           string
	QuestionLimit     string
	FallbackQuestions string
	MantraPrefix      string
	MantraSuffix      string
	ReminderDelay     string
	SpeechAPIURL      string
	SpeechAPIKey      string
	Language          string
	MessagesFile      string
	GenAITimeout      string
	TranscribeTimeout string
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	openaiKey         *string
	openaiModel       *string
	openaiBaseURL     *string
	apiAddr           *string
	questionLimit     *string
	fallbacks         *string
	mantraPrefix      *string
	mantraSuffix      *string
	reminderDelay     *string
	speechAPIURL      *string
	speechAPIKey      *string
	language          *string
	messagesFile      *string
	genaiTimeout      *string
	transcribeTimeout *string
}

// initializeLogger sets up structured logging; debug level is opt-in
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("MANTRAKIT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("MANTRAKIT_STATE_DIR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		APIAddr:           os.Getenv("API_ADDR"),
		QuestionLimit:     os.Getenv("QUESTION_LIMIT"),
		FallbackQuestions: os.Getenv("FALLBACK_QUESTIONS"),
		MantraPrefix:      os.Getenv("MANTRA_PROMPT_PREFIX"),
		MantraSuffix:      os.Getenv("MANTRA_PROMPT_SUFFIX"),
		ReminderDelay:     os.Getenv("REMINDER_DELAY"),
		SpeechAPIURL:      os.Getenv("SPEECH_API_URL"),
		SpeechAPIKey:      os.Getenv("SPEECH_API_KEY"),
		Language:          os.Getenv("SPEECH_LANGUAGE"),
		MessagesFile:      os.Getenv("MESSAGES_FILE"),
		GenAITimeout:      os.Getenv("GENAI_TIMEOUT"),
		TranscribeTimeout: os.Getenv("TRANSCRIBE_TIMEOUT"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MANTRAKIT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MANTRAKIT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"QUESTION_LIMIT", config.QuestionLimit,
		"SPEECH_API_URL_SET", config.SpeechAPIURL != "",
		"MESSAGES_FILE", config.MessagesFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:          flag.String("state-dir", config.StateDir, "state directory for mantrakit data (overrides $MANTRAKIT_STATE_DIR)"),
		dbDSN:             flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		openaiKey:         flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:       flag.String("openai-model", config.OpenAIModel, "chat completion model (overrides $OPENAI_MODEL)"),
		openaiBaseURL:     flag.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)"),
		apiAddr:           flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		questionLimit:     flag.String("question-limit", config.QuestionLimit, "questions per dialogue (overrides $QUESTION_LIMIT)"),
		fallbacks:         flag.String("fallback-questions", config.FallbackQuestions, "pipe-separated scripted questions (overrides $FALLBACK_QUESTIONS)"),
		mantraPrefix:      flag.String("mantra-prefix", config.MantraPrefix, "mantra prompt prefix (overrides $MANTRA_PROMPT_PREFIX)"),
		mantraSuffix:      flag.String("mantra-suffix", config.MantraSuffix, "mantra prompt suffix (overrides $MANTRA_PROMPT_SUFFIX)"),
		reminderDelay:     flag.String("reminder-delay", config.ReminderDelay, "delay before the mantra reminder, e.g. 24h (overrides $REMINDER_DELAY)"),
		speechAPIURL:      flag.String("speech-api-url", config.SpeechAPIURL, "speech recognition endpoint (overrides $SPEECH_API_URL)"),
		speechAPIKey:      flag.String("speech-api-key", config.SpeechAPIKey, "speech recognition API key (overrides $SPEECH_API_KEY)"),
		language:          flag.String("speech-language", config.Language, "default recognition language (overrides $SPEECH_LANGUAGE)"),
		messagesFile:      flag.String("messages-file", config.MessagesFile, "JSON message catalog overlay (overrides $MESSAGES_FILE)"),
		genaiTimeout:      flag.String("genai-timeout", config.GenAITimeout, "timeout for one generation call, e.g. 30s (overrides $GENAI_TIMEOUT)"),
		transcribeTimeout: flag.String("transcribe-timeout", config.TranscribeTimeout, "timeout for one transcription, e.g. 60s (overrides $TRANSCRIBE_TIMEOUT)"),
	}

	flag.Parse()

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore opens the backing store matching the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildGenAIClient constructs the chat completion client.
func buildGenAIClient(flags Flags) (*genai.Client, error) {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.openaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	if *flags.genaiTimeout != "" {
		timeout, err := time.ParseDuration(*flags.genaiTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid GenAI timeout %q: %w", *flags.genaiTimeout, err)
		}
		opts = append(opts, genai.WithTimeout(timeout))
	}
	return genai.NewClient(opts...)
}

// buildTranscriber constructs the voice adapter, or nil when no speech
// endpoint is configured.
func buildTranscriber(flags Flags) (*transcribe.Adapter, error) {
	if *flags.speechAPIURL == "" {
		slog.Info("No speech endpoint configured; voice turns will be rejected")
		return nil, nil
	}
	recognizer, err := transcribe.NewHTTPRecognizer(*flags.speechAPIURL, *flags.speechAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build speech recognizer: %w", err)
	}
	opts := []transcribe.Option{transcribe.WithRecognizer(recognizer)}
	if *flags.language != "" {
		opts = append(opts, transcribe.WithLanguage(*flags.language))
	}
	if *flags.transcribeTimeout != "" {
		timeout, err := time.ParseDuration(*flags.transcribeTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid transcription timeout %q: %w", *flags.transcribeTimeout, err)
		}
		opts = append(opts, transcribe.WithTimeout(timeout))
	}
	return transcribe.NewAdapter(opts...)
}

// buildFlowConfig assembles the dialogue parameters from flag values.
func buildFlowConfig(flags Flags) (flow.Config, error) {
	cfg := flow.Config{}
	if *flags.questionLimit != "" {
		limit, err := strconv.Atoi(*flags.questionLimit)
		if err != nil {
			return cfg, fmt.Errorf("invalid question limit %q: %w", *flags.questionLimit, err)
		}
		cfg.QuestionLimit = limit
	}
	if *flags.fallbacks != "" {
		for _, q := range strings.Split(*flags.fallbacks, "|") {
			if q = strings.TrimSpace(q); q != "" {
				cfg.FallbackQuestions = append(cfg.FallbackQuestions, q)
			}
		}
	}
	if *flags.genaiTimeout != "" {
		timeout, err := time.ParseDuration(*flags.genaiTimeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid GenAI timeout %q: %w", *flags.genaiTimeout, err)
		}
		cfg.GenerationTimeout = timeout
	}
	return cfg, nil
}

func parseReminderDelay(flags Flags) (time.Duration, error) {
	if *flags.reminderDelay == "" {
		return flow.DefaultReminderDelay, nil
	}
	delay, err := time.ParseDuration(*flags.reminderDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid reminder delay %q: %w", *flags.reminderDelay, err)
	}
	return delay, nil
}

// run wires every module together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only one instance may own the state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	client, err := buildGenAIClient(flags)
	if err != nil {
		return fmt.Errorf("failed to build GenAI client: %w", err)
	}

	transcriber, err := buildTranscriber(flags)
	if err != nil {
		return err
	}

	catalog, err := messages.Load(*flags.messagesFile)
	if err != nil {
		return fmt.Errorf("failed to load message catalog: %w", err)
	}

	flowCfg, err := buildFlowConfig(flags)
	if err != nil {
		return err
	}
	reminderDelay, err := parseReminderDelay(flags)
	if err != nil {
		return err
	}

	sessions := flow.NewStoreBasedSessionManager(st)
	questions := flow.NewQuestionGenerator(client)
	mantras := flow.NewMantraGenerator(client, *flags.mantraPrefix, *flags.mantraSuffix)
	orchestrator, err := flow.NewOrchestrator(sessions, questions, st, flowCfg)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}
	coordinator := flow.NewCoordinator(orchestrator, mantras, st, reminderDelay)

	channel := messaging.NewChannelService()
	if err := channel.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging channel: %w", err)
	}
	defer channel.Stop()

	var handlerTranscriber messaging.Transcriber
	if transcriber != nil {
		handlerTranscriber = transcriber
	}
	handler := messaging.NewResponseHandler(channel, coordinator, handlerTranscriber, catalog)
	handler.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	dispatcher := scheduler.NewReminderDispatcher(st, channel, catalog)
	if err := dispatcher.Register(ctx, sched); err != nil {
		return err
	}

	server := api.NewServer(*flags.apiAddr, channel, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	slog.Info("mantrakit running", "api_addr", *flags.apiAddr, "question_limit", flowCfg.QuestionLimit, "voice_enabled", transcriber != nil)
	return g.Wait()
}
