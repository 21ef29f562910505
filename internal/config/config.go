package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	RPCURL              string
	DBDriver            string
	DBDSN               string
	SQLitePath          string
	HTTPAddr            string
	APIURL              string
	RedisAddr           string
	OtelEndpoint        string
	KafkaBrokers        []string
	KafkaTopic          string
	PollInterval        time.Duration
	FeedPageSize        int
	FeedRefreshInterval time.Duration
	CatchUp             bool
	CatchUpMaxBlocks    uint64
	LogLevel            string
	LogFile             string
	LogMaxSizeMB        int
	LogMaxBackups       int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, _ := source.Lookup("RPC_URL")
	rpcURL = strings.TrimSpace(rpcURL)

	dbDriver, ok := source.Lookup("DB_DRIVER")
	if !ok || strings.TrimSpace(dbDriver) == "" {
		dbDriver = DriverMySQL
	}
	dbDriver = strings.ToLower(strings.TrimSpace(dbDriver))
	if dbDriver != DriverMySQL && dbDriver != DriverSQLite {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", dbDriver)
	}

	dbDSN, ok := source.Lookup("DB_DSN")
	if !ok || strings.TrimSpace(dbDSN) == "" {
		dbDSN = "root:@tcp(127.0.0.1:3306)/chainlens?parseTime=true&multiStatements=true"
	}

	sqlitePath, ok := source.Lookup("SQLITE_PATH")
	if !ok || strings.TrimSpace(sqlitePath) == "" {
		sqlitePath = "chainlens.db"
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	apiURL := "http://127.0.0.1:8080"
	if raw, ok := source.Lookup("API_URL"); ok && strings.TrimSpace(raw) != "" {
		apiURL = strings.TrimSpace(raw)
	}

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	// Publishing is off unless brokers are configured; the pipeline works
	// without Kafka.
	kafkaBrokers := parseList(source, "KAFKA_BROKERS")
	kafkaTopic, ok := source.Lookup("KAFKA_TOPIC")
	if !ok || strings.TrimSpace(kafkaTopic) == "" {
		kafkaTopic = "chainlens-transactions"
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	feedRefresh, err := parseDurationEnv(source, "FEED_REFRESH_INTERVAL", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	feedPageSize, err := parseUintEnv(source, "FEED_PAGE_SIZE", 10)
	if err != nil {
		return Config{}, err
	}

	catchUp, err := parseBoolEnv(source, "CATCH_UP", false)
	if err != nil {
		return Config{}, err
	}
	catchUpMaxBlocks, err := parseUintEnv(source, "CATCH_UP_MAX_BLOCKS", 10)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:              rpcURL,
		DBDriver:            dbDriver,
		DBDSN:               dbDSN,
		SQLitePath:          sqlitePath,
		HTTPAddr:            httpAddr,
		APIURL:              apiURL,
		RedisAddr:           redisAddr,
		OtelEndpoint:        otelEndpoint,
		KafkaBrokers:        kafkaBrokers,
		KafkaTopic:          kafkaTopic,
		PollInterval:        pollInterval,
		FeedRefreshInterval: feedRefresh,
		FeedPageSize:        int(feedPageSize),
		CatchUp:             catchUp,
		CatchUpMaxBlocks:    catchUpMaxBlocks,
		LogLevel:            logLevel,
		LogFile:             logFile,
		LogMaxSizeMB:        int(logMaxSize),
		LogMaxBackups:       int(logMaxBackups),
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseBoolEnv(source EnvSource, key string, defaultValue bool) (bool, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}
