// Пакет config — загрузка и валидация конфигурации Archive Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DBConfig — параметры подключения к одной базе PostgreSQL.
// Archive Module работает с двумя базами: операционной и архивной.
type DBConfig struct {
	// Хост PostgreSQL
	Host string
	// Порт PostgreSQL
	Port int
	// Имя базы данных
	Name string
	// Имя пользователя PostgreSQL
	User string
	// Пароль пользователя PostgreSQL
	Password string
	// Режим SSL: disable, require, verify-ca, verify-full
	SSLMode string
	// Максимальный размер пула соединений
	PoolMaxConns int
}

// DSN возвращает строку подключения к PostgreSQL.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode, d.PoolMaxConns,
	)
}

// URL возвращает URL подключения (для golang-migrate и topologymetrics).
func (d *DBConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Config содержит все параметры конфигурации Archive Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Операционная база (источник данных для архивации)
	DB DBConfig
	// Архивная база (холодное хранилище).
	// По умолчанию — та же база с суффиксом _archive в имени.
	ArchiveDB DBConfig

	// --- Keycloak / JWT ---

	// URL Keycloak (например, https://keycloak.medflow.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- Планировщик правил ретенции ---

	// Интервал опроса таблицы правил
	SchedulerPollInterval time.Duration
	// Таймаут, после которого статус running считается зависшим
	RuleStaleTimeout time.Duration

	// --- Маппинг групп → ролей ---

	// Группы Keycloak, дающие роль admin (через запятую)
	RoleAdminGroups []string
	// Группы Keycloak, дающие роль readonly (через запятую)
	RoleReadonlyGroups []string

	// --- topologymetrics ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// ARM_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("ARM_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("ARM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ARM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// ARM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ARM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ARM_LOG_LEVEL: %w", err)
	}

	// ARM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ARM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ARM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Операционная база ---

	// ARM_DB_HOST — обязательный
	cfg.DB.Host, err = getEnvRequired("ARM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// ARM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DB.Port, err = getEnvInt("ARM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ARM_DB_PORT: %w", err)
	}

	// ARM_DB_NAME — обязательный
	cfg.DB.Name, err = getEnvRequired("ARM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// ARM_DB_USER — обязательный
	cfg.DB.User, err = getEnvRequired("ARM_DB_USER")
	if err != nil {
		return nil, err
	}

	// ARM_DB_PASSWORD — обязательный
	cfg.DB.Password, err = getEnvRequired("ARM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// ARM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DB.SSLMode = getEnvDefault("ARM_DB_SSL_MODE", "disable")
	if !validSSLMode(cfg.DB.SSLMode) {
		return nil, fmt.Errorf("ARM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DB.SSLMode)
	}

	// ARM_DB_POOL_MAX_CONNS — размер пула операционной базы (по умолчанию 20)
	cfg.DB.PoolMaxConns, err = getEnvInt("ARM_DB_POOL_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("ARM_DB_POOL_MAX_CONNS: %w", err)
	}

	// --- Архивная база ---
	// Каждый параметр по умолчанию наследуется от операционной базы,
	// имя базы — с суффиксом _archive.

	cfg.ArchiveDB.Host = getEnvDefault("ARM_ARCHIVE_DB_HOST", cfg.DB.Host)

	cfg.ArchiveDB.Port, err = getEnvInt("ARM_ARCHIVE_DB_PORT", cfg.DB.Port)
	if err != nil {
		return nil, fmt.Errorf("ARM_ARCHIVE_DB_PORT: %w", err)
	}

	cfg.ArchiveDB.Name = getEnvDefault("ARM_ARCHIVE_DB_NAME", cfg.DB.Name+"_archive")
	cfg.ArchiveDB.User = getEnvDefault("ARM_ARCHIVE_DB_USER", cfg.DB.User)
	cfg.ArchiveDB.Password = getEnvDefault("ARM_ARCHIVE_DB_PASSWORD", cfg.DB.Password)

	cfg.ArchiveDB.SSLMode = getEnvDefault("ARM_ARCHIVE_DB_SSL_MODE", cfg.DB.SSLMode)
	if !validSSLMode(cfg.ArchiveDB.SSLMode) {
		return nil, fmt.Errorf("ARM_ARCHIVE_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.ArchiveDB.SSLMode)
	}

	// ARM_ARCHIVE_DB_POOL_MAX_CONNS — пул архивной базы меньше (по умолчанию 10)
	cfg.ArchiveDB.PoolMaxConns, err = getEnvInt("ARM_ARCHIVE_DB_POOL_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("ARM_ARCHIVE_DB_POOL_MAX_CONNS: %w", err)
	}

	// --- Keycloak / JWT ---

	// ARM_KEYCLOAK_URL — обязательный
	cfg.KeycloakURL, err = getEnvRequired("ARM_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// ARM_KEYCLOAK_REALM — realm (по умолчанию medflow)
	cfg.KeycloakRealm = getEnvDefault("ARM_KEYCLOAK_REALM", "medflow")

	// ARM_JWT_ISSUER — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTIssuer = getEnvDefault("ARM_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	// ARM_JWT_JWKS_URL — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTJWKSURL = getEnvDefault("ARM_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// ARM_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("ARM_CA_CERT_PATH", "")

	// --- Планировщик ---

	// ARM_SCHEDULER_POLL_INTERVAL — интервал опроса правил (по умолчанию 60s)
	cfg.SchedulerPollInterval, err = getEnvDuration("ARM_SCHEDULER_POLL_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ARM_SCHEDULER_POLL_INTERVAL: %w", err)
	}
	if cfg.SchedulerPollInterval < time.Second {
		return nil, fmt.Errorf("ARM_SCHEDULER_POLL_INTERVAL: значение %v меньше минимального 1s", cfg.SchedulerPollInterval)
	}

	// ARM_RULE_STALE_TIMEOUT — таймаут зависшего статуса running (по умолчанию 2h)
	cfg.RuleStaleTimeout, err = getEnvDuration("ARM_RULE_STALE_TIMEOUT", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ARM_RULE_STALE_TIMEOUT: %w", err)
	}

	// --- Маппинг групп → ролей ---

	// ARM_ROLE_ADMIN_GROUPS — группы для роли admin (по умолчанию "medflow-admins")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("ARM_ROLE_ADMIN_GROUPS", "medflow-admins"))

	// ARM_ROLE_READONLY_GROUPS — группы для роли readonly (по умолчанию "medflow-viewers")
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("ARM_ROLE_READONLY_GROUPS", "medflow-viewers"))

	// --- topologymetrics ---

	// ARM_DEPHEALTH_GROUP — группа в метриках (по умолчанию medflow)
	cfg.DephealthGroup = getEnvDefault("ARM_DEPHEALTH_GROUP", "medflow")

	// ARM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("ARM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ARM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// ARM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ARM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ARM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// validSSLMode проверяет допустимость режима SSL.
func validSSLMode(mode string) bool {
	switch mode {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
