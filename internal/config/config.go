package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/retry"
)

const (
	defaultTimezone   = "Asia/Shanghai"
	configPathEnv     = "NEWSINDEXER_CONFIG"
	dataDirEnv        = "NEWSINDEXER_DATA_DIR"
	listURLEnv        = "NEWSINDEXER_LIST_URL"
	logLevelEnv       = "LOG_LEVEL"
	databaseDSNEnv    = "DATABASE_DSN"
	workflowKeyEnv    = "WORKFLOW_API_KEY"
	workflowURLEnv    = "WORKFLOW_ENDPOINT"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Scorer providers.
const (
	ProviderWorkflow = "workflow"
	ProviderChatGPT  = "chatgpt"
	ProviderNone     = "none"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Source        SourceConfig       `yaml:"source"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Crawl         CrawlConfig        `yaml:"crawl"`
	Storage       StorageConfig      `yaml:"storage"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Profile       domain.UserProfile `yaml:"profile"`
	ML            MLConfig           `yaml:"ml"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Notifications NotificationConfig `yaml:"notifications"`
	Database      DatabaseConfig     `yaml:"database"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig points at the paginated news listing.
type SourceConfig struct {
	Name      string `yaml:"name"`
	ListURL   string `yaml:"listUrl"`
	PageParam string `yaml:"pageParam"`
}

// FetchConfig bounds HTTP retrieval.
type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	UserAgent         string        `yaml:"userAgent"`
	Retry             retry.Policy  `yaml:"retry"`
}

// CrawlConfig holds the crawl defaults used by the scheduled job and CLI.
type CrawlConfig struct {
	Pages               int              `yaml:"pages"`
	Mode                domain.CrawlMode `yaml:"mode"`
	DetailConcurrency   int              `yaml:"detailConcurrency"`
	StopOnDuplicatePage bool             `yaml:"stopOnDuplicatePage"`
}

// StorageConfig locates the JSON stores.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// IndexPath is the index file under the data directory.
func (s StorageConfig) IndexPath() string { return filepath.Join(s.DataDir, "index.json") }

// ArticlesDir holds one document per article.
func (s StorageConfig) ArticlesDir() string { return filepath.Join(s.DataDir, "articles") }

// AnalysisDir holds one analysis record per article.
func (s StorageConfig) AnalysisDir() string { return filepath.Join(s.DataDir, "analysis") }

// JobsPath is the persisted scheduler state.
func (s StorageConfig) JobsPath() string { return filepath.Join(s.DataDir, "jobs.json") }

// SchedulerConfig defines when the jobs should run.
type SchedulerConfig struct {
	Timezone    string         `yaml:"timezone"`
	StopTimeout time.Duration  `yaml:"stopTimeout"`
	Jobs        JobsConfig     `yaml:"jobs"`
	location    *time.Location `yaml:"-"`
}

// JobsConfig lists the scheduled jobs.
type JobsConfig struct {
	Crawl    JobConfig `yaml:"crawl"`
	Analysis JobConfig `yaml:"analysis"`
	Cleanup  JobConfig `yaml:"cleanup"`
	Health   JobConfig `yaml:"health"`
}

// JobConfig schedules one job by cron expression or fixed interval.
type JobConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cron     string        `yaml:"cron"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    retry.Policy  `yaml:"retry"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AnalysisConfig selects the scorer and batch behaviour.
type AnalysisConfig struct {
	Provider       string  `yaml:"provider"`
	BatchSize      int     `yaml:"batchSize"`
	RetentionDays  int     `yaml:"retentionDays"`
	DigestMinScore float64 `yaml:"digestMinScore"`
}

// MLConfig describes the analysis workflow service.
type MLConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	User     string        `yaml:"user"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    retry.Policy  `yaml:"retry"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        retry.Policy  `yaml:"retry"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	APIBase  string `yaml:"apiBase"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// DatabaseConfig describes the optional Postgres mirror.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig sets the Prometheus listener; empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads .env, the YAML file at path (or $NEWSINDEXER_CONFIG), applies
// environment overrides and validates the result. YAML values override the
// defaults field by field.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dataDirEnv); v != "" {
		c.Storage.DataDir = v
	}

	if v := os.Getenv(listURLEnv); v != "" {
		c.Source.ListURL = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(workflowKeyEnv); v != "" {
		c.ML.APIKey = v
	}

	if v := os.Getenv(workflowURLEnv); v != "" {
		c.ML.Endpoint = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Source.ListURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("source.listUrl must be an absolute http(s) url, got %q", c.Source.ListURL))
	}
	if c.Crawl.Pages < 1 {
		errs = append(errs, fmt.Errorf("crawl.pages must be >= 1"))
	}
	if !c.Crawl.Mode.Valid() {
		errs = append(errs, fmt.Errorf("crawl.mode must be summary or full, got %q", c.Crawl.Mode))
	}
	if c.Crawl.DetailConcurrency < 1 {
		errs = append(errs, fmt.Errorf("crawl.detailConcurrency must be >= 1"))
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, fmt.Errorf("storage.dataDir is required"))
	}
	if err := c.Fetch.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fetch.retry: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	switch c.Analysis.Provider {
	case ProviderNone:
	case ProviderWorkflow:
		if c.ML.Endpoint == "" || c.ML.APIKey == "" {
			errs = append(errs, fmt.Errorf("analysis.provider workflow needs ml.endpoint and ml.apiKey"))
		}
		if err := c.ML.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("ml.retry: %w", err))
		}
	case ProviderChatGPT:
		if c.ChatGPT.Endpoint == "" || c.ChatGPT.APIKey == "" || c.ChatGPT.Model == "" {
			errs = append(errs, fmt.Errorf("analysis.provider chatgpt needs chatgpt.endpoint, chatgpt.apiKey and chatgpt.model"))
		}
		if err := c.ChatGPT.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("chatgpt.retry: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("analysis.provider must be workflow, chatgpt or none, got %q", c.Analysis.Provider))
	}
	if c.Analysis.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("analysis.batchSize must be >= 1"))
	}
	if c.Analysis.DigestMinScore < domain.MinRelevanceScore || c.Analysis.DigestMinScore > domain.MaxRelevanceScore {
		errs = append(errs, fmt.Errorf("analysis.digestMinScore must be within [0, 10]"))
	}

	jobs := map[string]JobConfig{
		"crawl":    c.Scheduler.Jobs.Crawl,
		"analysis": c.Scheduler.Jobs.Analysis,
		"cleanup":  c.Scheduler.Jobs.Cleanup,
		"health":   c.Scheduler.Jobs.Health,
	}
	for _, name := range []string{"crawl", "analysis", "cleanup", "health"} {
		job := jobs[name]
		if !job.Enabled {
			continue
		}
		if job.Cron == "" && job.Interval <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.jobs.%s needs cron or interval", name))
		}
		if err := job.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.jobs.%s.retry: %w", name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Source: SourceConfig{
			Name:      "sztu-news",
			ListURL:   "https://nbw.sztu.edu.cn/list.jsp?urltype=tree.TreeTempUrl&wbtreeid=1029",
			PageParam: "PAGENUM",
		},
		Fetch: FetchConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			UserAgent:         "NewsIndexer/1.0",
			Retry:             retry.Policy{MaxRetries: 3, Delay: time.Second, Backoff: retry.BackoffExponential, MaxDelay: 30 * time.Second},
		},
		Crawl:   CrawlConfig{Pages: 3, Mode: domain.ModeFull, DetailConcurrency: 4},
		Storage: StorageConfig{DataDir: "data"},
		Scheduler: SchedulerConfig{
			Timezone:    defaultTimezone,
			StopTimeout: 30 * time.Second,
			Jobs: JobsConfig{
				Crawl: JobConfig{
					Enabled: true,
					Cron:    "0 */6 * * *",
					Timeout: 30 * time.Minute,
					Retry:   retry.Policy{MaxRetries: 2, Delay: time.Minute},
				},
				Analysis: JobConfig{
					Enabled: true,
					Cron:    "30 */6 * * *",
					Timeout: time.Hour,
					Retry:   retry.Policy{MaxRetries: 1, Delay: time.Minute},
				},
				Cleanup: JobConfig{Enabled: true, Cron: "0 3 * * *"},
				Health:  JobConfig{Enabled: true, Interval: 5 * time.Minute},
			},
		},
		Analysis: AnalysisConfig{Provider: ProviderNone, BatchSize: 20, RetentionDays: 30, DigestMinScore: 7},
		ML: MLConfig{
			Endpoint: "http://localhost:8001/v1",
			Timeout:  60 * time.Second,
			Retry:    retry.Policy{MaxRetries: 3, Delay: 2 * time.Second},
		},
		ChatGPT: ChatGPTConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			Timeout:  30 * time.Second,
			Retry:    retry.Policy{MaxRetries: 2, Delay: 2 * time.Second, Backoff: retry.BackoffExponential},
		},
	}
}
