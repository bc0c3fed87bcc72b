package config

import (
	"strconv"
	"strings"
)

// AgentConfig holds all configuration for the vidmark coordinator.
type AgentConfig struct {
	// CDP connection
	CDPAddress string
	CDPPort    int

	// HTTP surface
	BindAddr string

	// Tab matching
	TabURLFilter string

	// Eval and detection timing (milliseconds unless noted)
	EvalTimeoutMS       int
	DetectWaitMS        int
	MonitorIntervalMS   int
	HealthIntervalMS    int
	RedetectIntervalMS  int
	RedetectMaxAttempts int
	TabSyncIntervalMS   int
	ContextGraceMS      int

	// Heuristic knobs (see detection scoring and scrubber sampling)
	ScoreFloor   int
	ZIndexCap    int
	SamplePoints int
	ClimbDepth   int

	// Annotation backend (optional; empty = local cache only)
	BackendURL       string
	BackendTimeoutMS int
	FetchRetries     int
	MarkerLimit      int

	// Persistence and artifacts
	DBPath     string
	JournalDir string
	FixtureDir string

	// Logging
	LogLevel string
	LogFile  string

	// Optional local browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string

	// Optional operator alerts
	PushoverToken string
	PushoverUser  string
}

// LoadAgent reads agent configuration from environment variables and an
// optional .env file. Timing values are floored so a misconfigured
// environment cannot produce busy loops or evals that expire before the
// in-page mutation wait does.
func LoadAgent() (*AgentConfig, error) {
	loadDotEnv()

	cfg := &AgentConfig{
		CDPAddress:          getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:             getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:            getEnvOrDefault("VIDMARK_BIND_ADDR", "127.0.0.1:8460"),
		TabURLFilter:        getEnvOrDefault("VIDMARK_TAB_URL_FILTER", ""),
		EvalTimeoutMS:       getEnvIntOrDefault("VIDMARK_EVAL_TIMEOUT_MS", 15000),
		DetectWaitMS:        getEnvIntOrDefault("VIDMARK_DETECT_WAIT_MS", 8000),
		MonitorIntervalMS:   getEnvIntOrDefault("VIDMARK_MONITOR_INTERVAL_MS", 5000),
		HealthIntervalMS:    getEnvIntOrDefault("VIDMARK_HEALTH_INTERVAL_MS", 10000),
		RedetectIntervalMS:  getEnvIntOrDefault("VIDMARK_REDETECT_INTERVAL_MS", 3000),
		RedetectMaxAttempts: getEnvIntOrDefault("VIDMARK_REDETECT_MAX_ATTEMPTS", 20),
		TabSyncIntervalMS:   getEnvIntOrDefault("VIDMARK_TAB_SYNC_MS", 3000),
		ContextGraceMS:      getEnvIntOrDefault("VIDMARK_CONTEXT_GRACE_MS", 30000),
		ScoreFloor:          getEnvIntOrDefault("VIDMARK_SCORE_FLOOR", -50),
		ZIndexCap:           getEnvIntOrDefault("VIDMARK_ZINDEX_CAP", 50),
		SamplePoints:        getEnvIntOrDefault("VIDMARK_SAMPLE_POINTS", 9),
		ClimbDepth:          getEnvIntOrDefault("VIDMARK_CLIMB_DEPTH", 6),
		BackendURL:          strings.TrimRight(getEnvOrDefault("VIDMARK_BACKEND_URL", ""), "/"),
		BackendTimeoutMS:    getEnvIntOrDefault("VIDMARK_BACKEND_TIMEOUT_MS", 10000),
		FetchRetries:        getEnvIntOrDefault("VIDMARK_FETCH_RETRIES", 4),
		MarkerLimit:         getEnvIntOrDefault("VIDMARK_MARKER_LIMIT", 500),
		DBPath:              getEnvOrDefault("VIDMARK_DB_PATH", "vidmark.db"),
		JournalDir:          getEnvOrDefault("VIDMARK_JOURNAL_DIR", "journal"),
		FixtureDir:          getEnvOrDefault("VIDMARK_FIXTURE_DIR", "fixtures"),
		LogLevel:            strings.ToLower(getEnvOrDefault("VIDMARK_LOG_LEVEL", "info")),
		LogFile:             getEnvOrDefault("VIDMARK_LOG_FILE", "logs/vidmark.log"),
		LaunchBrowser:       getEnvBoolOrDefault("VIDMARK_LAUNCH_BROWSER", false),
		StartURL:            getEnvOrDefault("VIDMARK_START_URL", ""),
		ProfileDir:          getEnvOrDefault("VIDMARK_PROFILE_DIR", ""),
		PushoverToken:       getEnvOrDefault("PUSHOVER_TOKEN", ""),
		PushoverUser:        getEnvOrDefault("PUSHOVER_USER", ""),
	}

	if cfg.DetectWaitMS < 1000 {
		cfg.DetectWaitMS = 1000
	}
	// The mutation-wait strategy runs inside a single eval; give the eval
	// room to outlive it.
	if cfg.EvalTimeoutMS < cfg.DetectWaitMS+2000 {
		cfg.EvalTimeoutMS = cfg.DetectWaitMS + 2000
	}
	if cfg.MonitorIntervalMS < 1000 {
		cfg.MonitorIntervalMS = 1000
	}
	if cfg.HealthIntervalMS < 1000 {
		cfg.HealthIntervalMS = 1000
	}
	if cfg.RedetectIntervalMS < 500 {
		cfg.RedetectIntervalMS = 500
	}
	if cfg.TabSyncIntervalMS < 1000 {
		cfg.TabSyncIntervalMS = 1000
	}
	if cfg.ContextGraceMS < 1000 {
		cfg.ContextGraceMS = 1000
	}
	if cfg.SamplePoints < 3 {
		cfg.SamplePoints = 3
	}
	if cfg.ClimbDepth < 1 {
		cfg.ClimbDepth = 1
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint, e.g. http://127.0.0.1:9222.
func (c *AgentConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}
