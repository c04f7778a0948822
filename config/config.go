package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/appdirs"
)

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type PathsConfig struct {
	// UploadRoot and OutputRoot default to the appdirs layout when empty.
	UploadRoot string `toml:"upload_root"`
	OutputRoot string `toml:"output_root"`
	DBPath     string `toml:"db_path"`
}

type EngineConfig struct {
	// Python is a binary name resolved on PATH or an absolute path.
	Python         string `toml:"python"`
	Script         string `toml:"script"`
	StepTimeoutMin int    `toml:"step_timeout_minutes"`
}

type SurveysConfig struct {
	DefinitionFile string `toml:"definition_file"`
}

type RegistryConfig struct {
	Dir           string `toml:"dir"`
	RescanMinutes int    `toml:"rescan_minutes"`
}

type DatabaseConfig struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	Name        string `toml:"name"`
	SSLMode     string `toml:"ssl_mode"`
	LookupTable string `toml:"lookup_table"`
}

// DSN builds the lib/pq connection string for the lookup database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type AgolConfig struct {
	Enabled      bool   `toml:"enabled"`
	PortalUrl    string `toml:"portal_url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	TokenMinutes int    `toml:"token_minutes"`
}

type OssConfig struct {
	Enabled         bool   `toml:"enabled"`
	AccessKeyId     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
}

type SmsConfig struct {
	Enabled         bool   `toml:"enabled"`
	RegionId        string `toml:"region_id"`
	AccessKeyId     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	SignName        string `toml:"sign_name"`
	TemplateCode    string `toml:"template_code"`
	PhoneNumbers    string `toml:"phone_numbers"`
}

type QueueConfig struct {
	Enabled       bool   `toml:"enabled"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Concurrency   int    `toml:"concurrency"`
}

type RunnerConfig struct {
	QueueSize   int `toml:"queue_size"`
	Concurrency int `toml:"concurrency"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Paths    PathsConfig    `toml:"paths"`
	Engine   EngineConfig   `toml:"engine"`
	Surveys  SurveysConfig  `toml:"surveys"`
	Registry RegistryConfig `toml:"registry"`
	Database DatabaseConfig `toml:"database"`
	Agol     AgolConfig     `toml:"agol"`
	Oss      OssConfig      `toml:"oss"`
	Sms      SmsConfig      `toml:"sms"`
	Queue    QueueConfig    `toml:"queue"`
	Runner   RunnerConfig   `toml:"runner"`
}

var Conf = defaultConfig()

var resolveConfigPath = func() (string, error) {
	paths, err := appdirs.Resolve()
	if err != nil {
		return "", err
	}
	return paths.ConfigFile, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8888,
		},
		Engine: EngineConfig{
			Python:         "python",
			Script:         filepath.Join("engine", "survey_mapper.py"),
			StepTimeoutMin: 120,
		},
		Surveys: SurveysConfig{
			DefinitionFile: filepath.Join("config", "surveys.json"),
		},
		Registry: RegistryConfig{
			RescanMinutes: 15,
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Agol: AgolConfig{
			TokenMinutes: 60,
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Concurrency: 3,
		},
		Runner: RunnerConfig{
			QueueSize:   16,
			Concurrency: 1,
		},
	}
}

// ResolveConfigPath returns the location the config file is read from and
// written to.
func ResolveConfigPath() (string, error) {
	return resolveConfigPath()
}

// LoadOrCreateConfig loads config.toml, writing the defaults first when the
// file does not exist yet. The returned bool reports whether a new file was
// created.
func LoadOrCreateConfig() (bool, error) {
	configPath, err := resolveConfigPath()
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		Conf = defaultConfig()
		applyEnvOverrides()
		if err := SaveConfig(); err != nil {
			return false, err
		}
		return true, nil
	}

	Conf = defaultConfig()
	if _, err := toml.DecodeFile(configPath, &Conf); err != nil {
		return false, fmt.Errorf("decode %s: %w", configPath, err)
	}
	applyEnvOverrides()
	return false, nil
}

// SaveConfig writes the current Conf to the resolved config path, creating
// parent directories as needed.
func SaveConfig() error {
	configPath, err := resolveConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(Conf)
}

// CheckConfig validates the parts of the configuration that are enabled.
func CheckConfig() error {
	if Conf.Server.Port <= 0 || Conf.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", Conf.Server.Port)
	}
	if strings.TrimSpace(Conf.Engine.Script) == "" {
		return fmt.Errorf("engine script is not configured")
	}
	if strings.TrimSpace(Conf.Surveys.DefinitionFile) == "" {
		return fmt.Errorf("survey definition file is not configured")
	}
	if Conf.Database.Enabled {
		if Conf.Database.Host == "" || Conf.Database.Name == "" {
			return fmt.Errorf("lookup database enabled but host/name missing")
		}
		if Conf.Database.LookupTable == "" {
			return fmt.Errorf("lookup database enabled but lookup_table missing")
		}
	}
	if Conf.Agol.Enabled && Conf.Agol.PortalUrl == "" {
		return fmt.Errorf("agol enabled but portal_url missing")
	}
	if Conf.Oss.Enabled && Conf.Oss.Bucket == "" {
		return fmt.Errorf("oss enabled but bucket missing")
	}
	if Conf.Sms.Enabled && (Conf.Sms.TemplateCode == "" || Conf.Sms.PhoneNumbers == "") {
		return fmt.Errorf("sms enabled but template_code/phone_numbers missing")
	}
	if Conf.Queue.Enabled && Conf.Queue.RedisAddr == "" {
		return fmt.Errorf("queue enabled but redis_addr missing")
	}
	return nil
}

func applyEnvOverrides() {
	if v := os.Getenv("MAPSRV_HOST"); v != "" {
		Conf.Server.Host = v
	}
	if v := os.Getenv("MAPSRV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			Conf.Server.Port = port
		}
	}
	if v := os.Getenv("MAPSRV_OUTPUT_ROOT"); v != "" {
		Conf.Paths.OutputRoot = v
	}
	if v := os.Getenv("MAPSRV_REGISTRY_DIR"); v != "" {
		Conf.Registry.Dir = v
	}
	if v := os.Getenv("MAPSRV_PYTHON"); v != "" {
		Conf.Engine.Python = v
	}
}
