package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config основная конфигурация приложения
type Config struct {
	Logging struct {
		Level      string `mapstructure:"level" yaml:"level"`
		Format     string `mapstructure:"format" yaml:"format"`
		File       string `mapstructure:"file" yaml:"file"`
		MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
		MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
		MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
		Compress   bool   `mapstructure:"compress" yaml:"compress"`
	} `mapstructure:"logging" yaml:"logging"`

	Encryption struct {
		DefaultMethod string `mapstructure:"default_method" yaml:"default_method"`
		KeyDerivation struct {
			Iterations int `mapstructure:"iterations" yaml:"iterations"`
			SaltSize   int `mapstructure:"salt_size" yaml:"salt_size"`
		} `mapstructure:"key_derivation" yaml:"key_derivation"`
	} `mapstructure:"encryption" yaml:"encryption"`

	Compression struct {
		DefaultType string `mapstructure:"default_type" yaml:"default_type"`
		Level       int    `mapstructure:"level" yaml:"level"`
	} `mapstructure:"compression" yaml:"compression"`

	Backup struct {
		DefaultDirectory  string `mapstructure:"default_directory" yaml:"default_directory"`
		DefaultMaxBackups int    `mapstructure:"default_max_backups" yaml:"default_max_backups"`
		HashAlgorithm     string `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
	} `mapstructure:"backup" yaml:"backup"`
}

// NewConfig создает новую конфигурацию со значениями по умолчанию
func NewConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAge = 7
	cfg.Logging.Compress = true

	cfg.Encryption.DefaultMethod = "fernet"
	cfg.Encryption.KeyDerivation.Iterations = 100000
	cfg.Encryption.KeyDerivation.SaltSize = 16

	cfg.Compression.DefaultType = "zip"
	cfg.Compression.Level = 6

	cfg.Backup.DefaultDirectory = getDefaultBackupPath()
	cfg.Backup.DefaultMaxBackups = 10
	cfg.Backup.HashAlgorithm = "sha256"

	return cfg
}

// LoadConfig загружает конфигурацию из файла
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	if configPath != "" {
		// Загрузка из указанного файла
		viper.SetConfigFile(configPath)
	} else {
		// Поиск конфигурации в стандартных местах
		viper.SetConfigName("archivarius")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/archivarius")
		viper.AddConfigPath("/etc/archivarius")
	}

	// Переменные окружения
	viper.SetEnvPrefix("ARCHIVARIUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
		}
		// Файл конфигурации не найден, используем значения по умолчанию
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return config, nil
}

// SaveConfig сохраняет конфигурацию в файл
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфигурации: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла конфигурации: %w", err)
	}

	return nil
}

// getDefaultBackupPath возвращает путь для бэкапов по умолчанию
func getDefaultBackupPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./backups"
	}
	return filepath.Join(home, "backups")
}
