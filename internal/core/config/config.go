package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Agent      AgentConfig      `mapstructure:"AGENT"`
	Checkpoint CheckpointConfig `mapstructure:"CHECKPOINT"`
	GC         GCConfig         `mapstructure:"GC"`
	Poller     PollerConfig     `mapstructure:"POLLER"`
	Reconcile  ReconcileConfig  `mapstructure:"RECONCILE"`
	Webhooks   WebhookConfig    `mapstructure:"WEBHOOKS"`
	Admin      AdminConfig      `mapstructure:"ADMIN"`
}

type ServerConfig struct {
	Host     string `mapstructure:"HOST"`
	Port     string `mapstructure:"PORT"`
	Endpoint string `mapstructure:"ENDPOINT"`
}

type DatabaseConfig struct {
	Username     string `mapstructure:"USERNAME"`
	Password     string `mapstructure:"PASSWORD"`
	Host         string `mapstructure:"HOST"`
	Port         string `mapstructure:"PORT"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`
}

// AgentConfig governs the controller side of the agent channel (C6).
type AgentConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"HEARTBEAT_INTERVAL_SECONDS"`
	HeartbeatTimeoutSeconds  int `mapstructure:"HEARTBEAT_TIMEOUT_SECONDS"`
	RPCTimeoutSeconds        int `mapstructure:"RPC_TIMEOUT_SECONDS"`
	RegistryCacheTTLSeconds  int `mapstructure:"REGISTRY_CACHE_TTL_SECONDS"`
}

type CheckpointConfig struct {
	FinalizeCooldownSeconds  int `mapstructure:"FINALIZE_COOLDOWN_SECONDS"`
	ReadinessTimeoutSeconds  int `mapstructure:"READINESS_TIMEOUT_SECONDS"`
	ReadinessPollSeconds     int `mapstructure:"READINESS_POLL_SECONDS"`
	FinalizeSoftLimitSeconds int `mapstructure:"FINALIZE_SOFT_LIMIT_SECONDS"`
	FinalizeHardLimitSeconds int `mapstructure:"FINALIZE_HARD_LIMIT_SECONDS"`
	WorkerPoolSize           int `mapstructure:"WORKER_POOL_SIZE"`
}

type GCConfig struct {
	IntervalSeconds int `mapstructure:"INTERVAL_SECONDS"`
	MaxAgeSeconds   int `mapstructure:"MAX_AGE_SECONDS"`
	BatchSize       int `mapstructure:"BATCH_SIZE"`
}

type PollerConfig struct {
	IntervalSeconds int `mapstructure:"INTERVAL_SECONDS"`
	MinAgeSeconds   int `mapstructure:"MIN_AGE_SECONDS"`
	BatchSize       int `mapstructure:"BATCH_SIZE"`
}

type ReconcileConfig struct {
	IntervalSeconds int `mapstructure:"INTERVAL_SECONDS"`
	BatchSize       int `mapstructure:"BATCH_SIZE"`
}

type WebhookConfig struct {
	GitLabSecret  string `mapstructure:"GITLAB_SECRET"`
	GitHubSecret  string `mapstructure:"GITHUB_SECRET"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"API_KEY"`
}

type ConfigManager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

var (
	instance *ConfigManager
	once     sync.Once
)

func (dc *DatabaseConfig) GetConnectionURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dc.Username,
		dc.Password,
		dc.Host,
		dc.Port,
		dc.DatabaseName,
	)
}

func GetConfigManager() *ConfigManager {
	once.Do(func() {
		instance = &ConfigManager{
			configPath: ".env",
		}
	})
	return instance
}

func (cm *ConfigManager) SetConfigPath(path string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.configPath = path
	cm.config = nil
}

func (cm *ConfigManager) GetConfig() (*Config, error) {
	cm.mutex.RLock()
	if cm.config != nil {
		defer cm.mutex.RUnlock()
		return cm.config, nil
	}
	cm.mutex.RUnlock()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func (cm *ConfigManager) ReloadConfig() (*Config, error) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func loadConfigFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	v.SetDefault("SERVER", map[string]interface{}{
		"HOST":     v.GetString("SERVER_HOST"),
		"PORT":     v.GetString("SERVER_PORT"),
		"ENDPOINT": v.GetString("SERVER_ENDPOINT"),
	})

	v.SetDefault("DATABASE", map[string]interface{}{
		"USERNAME":      v.GetString("DATABASE_USERNAME"),
		"PASSWORD":      v.GetString("DATABASE_PASSWORD"),
		"HOST":          v.GetString("DATABASE_HOST"),
		"PORT":          v.GetString("DATABASE_PORT"),
		"DATABASE_NAME": v.GetString("DATABASE_DATABASE_NAME"),
	})

	setIntDefault(v, "AGENT_HEARTBEAT_INTERVAL_SECONDS", 30)
	setIntDefault(v, "AGENT_HEARTBEAT_TIMEOUT_SECONDS", 90)
	setIntDefault(v, "AGENT_RPC_TIMEOUT_SECONDS", 30)
	setIntDefault(v, "AGENT_REGISTRY_CACHE_TTL_SECONDS", 300)
	v.SetDefault("AGENT", map[string]interface{}{
		"HEARTBEAT_INTERVAL_SECONDS": v.GetInt("AGENT_HEARTBEAT_INTERVAL_SECONDS"),
		"HEARTBEAT_TIMEOUT_SECONDS":  v.GetInt("AGENT_HEARTBEAT_TIMEOUT_SECONDS"),
		"RPC_TIMEOUT_SECONDS":        v.GetInt("AGENT_RPC_TIMEOUT_SECONDS"),
		"REGISTRY_CACHE_TTL_SECONDS": v.GetInt("AGENT_REGISTRY_CACHE_TTL_SECONDS"),
	})

	setIntDefault(v, "CHECKPOINT_FINALIZE_COOLDOWN_SECONDS", 5)
	setIntDefault(v, "CHECKPOINT_READINESS_TIMEOUT_SECONDS", 120)
	setIntDefault(v, "CHECKPOINT_READINESS_POLL_SECONDS", 5)
	setIntDefault(v, "CHECKPOINT_FINALIZE_SOFT_LIMIT_SECONDS", 300)
	setIntDefault(v, "CHECKPOINT_FINALIZE_HARD_LIMIT_SECONDS", 330)
	setIntDefault(v, "CHECKPOINT_WORKER_POOL_SIZE", 4)
	v.SetDefault("CHECKPOINT", map[string]interface{}{
		"FINALIZE_COOLDOWN_SECONDS":  v.GetInt("CHECKPOINT_FINALIZE_COOLDOWN_SECONDS"),
		"READINESS_TIMEOUT_SECONDS":  v.GetInt("CHECKPOINT_READINESS_TIMEOUT_SECONDS"),
		"READINESS_POLL_SECONDS":     v.GetInt("CHECKPOINT_READINESS_POLL_SECONDS"),
		"FINALIZE_SOFT_LIMIT_SECONDS": v.GetInt("CHECKPOINT_FINALIZE_SOFT_LIMIT_SECONDS"),
		"FINALIZE_HARD_LIMIT_SECONDS": v.GetInt("CHECKPOINT_FINALIZE_HARD_LIMIT_SECONDS"),
		"WORKER_POOL_SIZE":           v.GetInt("CHECKPOINT_WORKER_POOL_SIZE"),
	})

	setIntDefault(v, "GC_INTERVAL_SECONDS", 60)
	setIntDefault(v, "GC_MAX_AGE_SECONDS", 1800)
	setIntDefault(v, "GC_BATCH_SIZE", 200)
	v.SetDefault("GC", map[string]interface{}{
		"INTERVAL_SECONDS": v.GetInt("GC_INTERVAL_SECONDS"),
		"MAX_AGE_SECONDS":  v.GetInt("GC_MAX_AGE_SECONDS"),
		"BATCH_SIZE":       v.GetInt("GC_BATCH_SIZE"),
	})

	setIntDefault(v, "POLLER_INTERVAL_SECONDS", 20)
	setIntDefault(v, "POLLER_MIN_AGE_SECONDS", 120)
	setIntDefault(v, "POLLER_BATCH_SIZE", 200)
	v.SetDefault("POLLER", map[string]interface{}{
		"INTERVAL_SECONDS": v.GetInt("POLLER_INTERVAL_SECONDS"),
		"MIN_AGE_SECONDS":  v.GetInt("POLLER_MIN_AGE_SECONDS"),
		"BATCH_SIZE":       v.GetInt("POLLER_BATCH_SIZE"),
	})

	setIntDefault(v, "RECONCILE_INTERVAL_SECONDS", 120)
	setIntDefault(v, "RECONCILE_BATCH_SIZE", 200)
	v.SetDefault("RECONCILE", map[string]interface{}{
		"INTERVAL_SECONDS": v.GetInt("RECONCILE_INTERVAL_SECONDS"),
		"BATCH_SIZE":       v.GetInt("RECONCILE_BATCH_SIZE"),
	})

	v.SetDefault("WEBHOOKS", map[string]interface{}{
		"GITLAB_SECRET": v.GetString("WEBHOOKS_GITLAB_SECRET"),
		"GITHUB_SECRET": v.GetString("WEBHOOKS_GITHUB_SECRET"),
	})

	v.SetDefault("ADMIN", map[string]interface{}{
		"API_KEY": v.GetString("ADMIN_API_KEY"),
	})

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if config.Database.Username == "" || config.Database.Password == "" ||
		config.Database.Host == "" || config.Database.Port == "" ||
		config.Database.DatabaseName == "" {
		return nil, fmt.Errorf("missing required database configuration")
	}

	if config.Admin.APIKey == "" {
		return nil, fmt.Errorf("missing required admin API key configuration")
	}

	return &config, nil
}

func setIntDefault(v *viper.Viper, key string, fallback int) {
	if !v.IsSet(key) {
		v.SetDefault(key, fallback)
	}
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.configPath
}
