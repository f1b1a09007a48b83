package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	internalhttp "github.com/EternisAI/fleet-enroll/internal/api/http"
	"github.com/EternisAI/fleet-enroll/internal/auth"
	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/EternisAI/fleet-enroll/internal/db"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/installer"
	"github.com/EternisAI/fleet-enroll/internal/maintenance"
	"github.com/EternisAI/fleet-enroll/internal/metrics"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultControlPlaneURL = "http://localhost:5601"
	defaultPolicyName      = "Agent policy 1"
	defaultDownloadURL     = "https://artifacts.elastic.co/downloads/beats/elastic-agent/elastic-agent-8.15.2-linux-x86_64.tar.gz"
	defaultInstallDir      = "/opt/Elastic/Agent"
)

type Config struct {
	Log          LogConfig
	Http         internalhttp.Config
	ControlPlane controlplane.Config `mapstructure:"control_plane"`
	Auth         auth.Config
	Vault        auth.VaultConfig
	Policy       policy.Config
	Enrollment   enrollment.Config
	Installer    installer.Config
	Provision    ProvisionConfig
	Maintenance  maintenance.Config
	Database     db.Config
	Metrics      metrics.Config
}

type ProvisionConfig struct {
	// EnrollURL is handed to the agent installer; empty means the control-plane URL.
	EnrollURL   string `mapstructure:"enroll_url"`
	RunOnStart  bool   `mapstructure:"run_on_start"`
	HistorySize int    `mapstructure:"history_size"`
}

var config Config

// legacyEnv maps config keys to the environment names older deployments use.
var legacyEnv = map[string][]string{
	"control_plane.url":      {"KIBANA_URL"},
	"control_plane.username": {"KIBANA_USER", "ELASTICSEARCH_USER"},
	"control_plane.password": {"KIBANA_PASSWORD", "ELASTICSEARCH_PASSWORD"},
	"installer.download_url": {"ELASTIC_AGENT_DOWNLOAD_URL"},
	"installer.install_dir":  {"ELASTIC_AGENT_INSTALL_DIR"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.admin_api_key", "")
	v.SetDefault("http.run_timeout", 15*time.Minute)

	v.SetDefault("control_plane.url", defaultControlPlaneURL)
	v.SetDefault("control_plane.username", "")
	v.SetDefault("control_plane.password", "")
	v.SetDefault("control_plane.insecure_skip_verify", true)
	v.SetDefault("control_plane.timeout", 30*time.Second)

	v.SetDefault("auth.mode", auth.ModeStatic)
	v.SetDefault("auth.security_url", "")
	v.SetDefault("auth.key_name", "fleet-enroll")
	v.SetDefault("auth.expiration", "")
	v.SetDefault("auth.data_streams", []string{})

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.path", "")
	v.SetDefault("vault.username_field", "username")
	v.SetDefault("vault.password_field", "password")

	v.SetDefault("policy.name", defaultPolicyName)
	v.SetDefault("policy.page_size", 1000)

	v.SetDefault("enrollment.name_prefix", "fleet-enroll")

	v.SetDefault("installer.download_url", defaultDownloadURL)
	v.SetDefault("installer.work_dir", "")
	v.SetDefault("installer.install_dir", defaultInstallDir)
	v.SetDefault("installer.binary", "elastic-agent")
	v.SetDefault("installer.install_args", []string{"install", "--non-interactive", "--force"})
	v.SetDefault("installer.insecure", true)
	v.SetDefault("installer.checksum", "")

	v.SetDefault("provision.enroll_url", "")
	v.SetDefault("provision.run_on_start", false)
	v.SetDefault("provision.history_size", 100)

	v.SetDefault("maintenance.enabled", false)
	v.SetDefault("maintenance.interval", 10*time.Second)
	v.SetDefault("maintenance.document.url", "")
	v.SetDefault("maintenance.document.file", "")
	v.SetDefault("maintenance.document.path", "")
	v.SetDefault("maintenance.document.method", "POST")

	v.SetDefault("database.url", "")
	v.SetDefault("database.schema", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "fleet_enroll")
}

// LoadConfig reads .env, the optional application.yaml (or configFile when
// set) and the environment, in increasing precedence.
func LoadConfig(configFile string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/fleet-enroll")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, envs := range legacyEnv {
		_ = v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)...)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func InitConfig(configFile string) {
	var err error
	config, err = LoadConfig(configFile)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.ControlPlane.Password = redact(redacted.ControlPlane.Password)
		redacted.Vault.Token = redact(redacted.Vault.Token)
		redacted.Http.AdminAPIKey = redact(redacted.Http.AdminAPIKey)
		redacted.Database.URL = redact(redacted.Database.URL)
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func (c Config) enrollURL() string {
	if c.Provision.EnrollURL != "" {
		return c.Provision.EnrollURL
	}
	return c.ControlPlane.URL
}
