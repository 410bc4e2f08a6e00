// Package setup turns viper configuration into wired service components.
// Every subcommand that touches the queue, the destination API, or the LLM
// goes through here so the keys stay consistent.
package setup

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/quailyquaily/taskporter/db"
	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/llm"
	"github.com/quailyquaily/taskporter/providers/openai"
	"github.com/quailyquaily/taskporter/queue"
)

// OpenQueueStore builds the queue store named by queue.backend. The gorm
// handle is nil for the file backend; callers that need the directory
// tables must check for it.
func OpenQueueStore() (queue.Store, *gorm.DB, error) {
	backend := strings.ToLower(strings.TrimSpace(viper.GetString("queue.backend")))
	switch backend {
	case "file":
		path := strings.TrimSpace(viper.GetString("queue.file_path"))
		if path == "" {
			path = "./taskporter-queue.json"
		}
		store, err := queue.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "", "sqlite", "postgres":
		cfg := db.DefaultConfig()
		if backend != "" {
			cfg.Driver = backend
		}
		if driver := strings.TrimSpace(viper.GetString("db.driver")); driver != "" {
			cfg.Driver = driver
		}
		cfg.DSN = strings.TrimSpace(viper.GetString("db.dsn"))
		if viper.IsSet("db.max_open_conns") {
			cfg.Pool.MaxOpenConns = viper.GetInt("db.max_open_conns")
		}
		gdb, err := db.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := queue.NewDBStore(gdb)
		if err != nil {
			return nil, nil, err
		}
		return store, gdb, nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue.backend %q", backend)
	}
}

// DestClientFromViper builds the destination API client from dest.endpoint
// and dest.api_key.
func DestClientFromViper() (*dest.Client, error) {
	endpoint := strings.TrimSpace(viper.GetString("dest.endpoint"))
	if endpoint == "" {
		return nil, fmt.Errorf("missing dest.endpoint (set via config or TASKPORTER_DEST_ENDPOINT)")
	}
	apiKey := strings.TrimSpace(viper.GetString("dest.api_key"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing dest.api_key (set via config or TASKPORTER_DEST_API_KEY)")
	}
	timeout := viper.GetDuration("dest.request_timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return dest.NewClient(&http.Client{Timeout: timeout}, endpoint, apiKey)
}

// LLMClientFromViper builds the extraction LLM client. The model is returned
// separately so callers can pass it to the extractor.
func LLMClientFromViper() (llm.Client, string, error) {
	model := strings.TrimSpace(viper.GetString("llm.model"))
	if model == "" {
		return nil, "", fmt.Errorf("missing llm.model")
	}
	client, err := openai.New(openai.Config{
		APIKey:         strings.TrimSpace(viper.GetString("llm.api_key")),
		Endpoint:       strings.TrimSpace(viper.GetString("llm.endpoint")),
		Model:          model,
		RequestTimeout: viper.GetDuration("llm.request_timeout"),
	})
	if err != nil {
		return nil, "", err
	}
	return client, model, nil
}

// MatcherFromViper loads optional score rule overrides from match.rules_path.
func MatcherFromViper(log *slog.Logger) *dest.Matcher {
	rules := dest.DefaultScoreRules()
	if path := strings.TrimSpace(viper.GetString("match.rules_path")); path != "" {
		loaded, err := dest.LoadScoreRules(path)
		if err != nil {
			if log != nil {
				log.Warn("match_rules_load_error", "path", path, "error", err.Error())
			}
		} else {
			rules = loaded
		}
	}
	return dest.NewMatcher(dest.NewKeywordScorer(rules))
}

// PaceFromViper reads the sync pacing knobs, falling back to the defaults.
func PaceFromViper() dest.PaceConfig {
	pace := dest.DefaultPace()
	if viper.IsSet("sync.batch_size") {
		pace.BatchSize = viper.GetInt("sync.batch_size")
	}
	if viper.IsSet("sync.task_delay") {
		pace.TaskDelay = viper.GetDuration("sync.task_delay")
	}
	if viper.IsSet("sync.batch_delay") {
		pace.BatchDelay = viper.GetDuration("sync.batch_delay")
	}
	return pace
}
