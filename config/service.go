package config

import (
	"sync"
	"time"
)

var (
	queueOnce   sync.Once
	queueConfig *QueueConfig

	ledgerOnce   sync.Once
	ledgerConfig *LedgerConfig

	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	// BatchMaxConcurrent and BatchRetries apply to batch:recognize tasks.
	BatchMaxConcurrent int
	BatchRetries       int
	TaskTimeout        time.Duration
}

type LedgerConfig struct {
	Path string
}

type ServerConfig struct {
	Port          string
	StorageType   string
	MaxUploadSize int64
	LogLevel      string
	LogEncoding   string
	// CORSOrigins is empty to allow any origin.
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// CleanupInterval is how often the worker purges expired objects; zero
	// disables it.
	CleanupInterval time.Duration
}

func GetQueueConfig() *QueueConfig {
	queueOnce.Do(func() {
		loadEnv()
		queueConfig = &QueueConfig{
			RedisAddr:          getString("REDIS_ADDR", "localhost:6379"),
			RedisPassword:      getString("REDIS_PASSWORD", ""),
			RedisDB:            getInt("REDIS_DB", 0),
			Concurrency:        getInt("WORKER_CONCURRENCY", 10),
			BatchMaxConcurrent: getInt("BATCH_MAX_CONCURRENT", 3),
			BatchRetries:       getInt("BATCH_RETRIES", 1),
			TaskTimeout:        getDuration("TASK_TIMEOUT", 30*time.Minute),
		}
	})
	return queueConfig
}

func GetLedgerConfig() *LedgerConfig {
	ledgerOnce.Do(func() {
		loadEnv()
		ledgerConfig = &LedgerConfig{
			Path: getString("LEDGER_PATH", "data/usage.db"),
		}
	})
	return ledgerConfig
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()
		serverConfig = &ServerConfig{
			Port:            getString("SERVER_PORT", "8080"),
			StorageType:     getString("STORAGE_TYPE", "s3"),
			MaxUploadSize:   int64(getInt("MAX_UPLOAD_SIZE_MB", 20)) << 20,
			LogLevel:        getString("LOG_LEVEL", "info"),
			LogEncoding:     getString("LOG_ENCODING", "json"),
			CORSOrigins:     getList("CORS_ORIGINS", nil),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CleanupInterval: getDuration("CLEANUP_INTERVAL", time.Hour),
		}
	})
	return serverConfig
}
