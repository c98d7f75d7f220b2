package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every process-wide setting both cmd/scheduler and
// cmd/triggerapi read at startup.
type Config struct {
	Env   string
	Port  int
	DBURL string

	// ManifestManagerPollingInterval is the evaluator's (C3) tick
	// period.
	ManifestManagerPollingInterval time.Duration
	// JobDispatcherPollingInterval is the dispatcher's (C4) tick
	// period.
	JobDispatcherPollingInterval time.Duration
	// GlobalMaxActiveJobs, when set (> 0), caps total concurrently
	// active executions across all tenants; 0 means unlimited.
	GlobalMaxActiveJobs int
	// AdminWorkflowNames lists workflow type-names excluded from the
	// global active-job pre-filter (§4.3 step 4 / §4.4 step 2).
	AdminWorkflowNames []string

	// AlertDebounceBackend selects the alert hook's cooldown store:
	// "memory" (default) or "redis" for multi-replica deployments.
	AlertDebounceBackend string
	RedisAddr            string

	SlackToken   string
	SlackChannel string

	JWTSecret string

	// RecoverStuckAfter is the cutoff age RecoverStuck uses for its
	// one-shot startup reconciliation pass (SPEC_FULL.md §4.6).
	RecoverStuckAfter time.Duration

	// OperatorEmail/OperatorPassword seed the single bootstrap
	// operator account db.EnsureOperatorUser creates on startup
	// (SPEC_FULL.md §4.5); both empty skips seeding.
	OperatorEmail    string
	OperatorPassword string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)
	dbURL := buildDBURL()

	globalMax := getEnvInt("GLOBAL_MAX_ACTIVE_JOBS", 0)

	return Config{
		Env:                             env,
		Port:                            port,
		DBURL:                           dbURL,
		ManifestManagerPollingInterval:  getEnvDuration("MANIFEST_MANAGER_POLLING_INTERVAL", 30*time.Second),
		JobDispatcherPollingInterval:    getEnvDuration("JOB_DISPATCHER_POLLING_INTERVAL", 5*time.Second),
		GlobalMaxActiveJobs:             globalMax,
		AdminWorkflowNames:              getEnvList("ADMIN_WORKFLOW_NAMES", nil),
		AlertDebounceBackend:            getEnv("ALERT_DEBOUNCE_BACKEND", "memory"),
		RedisAddr:                       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		SlackToken:                      getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:                    getEnv("SLACK_ALERT_CHANNEL", ""),
		JWTSecret:                       getEnv("JWT_SECRET", ""),
		RecoverStuckAfter:               getEnvDuration("RECOVER_STUCK_AFTER", 10*time.Minute),
		OperatorEmail:                   getEnv("OPERATOR_EMAIL", ""),
		OperatorPassword:                getEnv("OPERATOR_PASSWORD", ""),
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "scheduler")
	pass := getEnv("DB_PASSWORD", "scheduler")
	name := getEnv("DB_NAME", "scheduler")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return d
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}