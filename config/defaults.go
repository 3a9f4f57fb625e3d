// =============================================================================
// 📦 RelayFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Cache:      DefaultCacheConfig(),
		Assignment: DefaultAssignmentConfig(),
		Webhook:    DefaultWebhookConfig(),
		Connector:  DefaultConnectorConfig(),
		Messages:   DefaultMessages(),
		Tags:       []string{},
		Log:        DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "relayflow",
		Password:        "",
		Name:            "relayflow",
		SSLMode:         "disable",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		Channel:  "relayflow:cache",
	}
}

// DefaultCacheConfig 返回默认线程缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:        1000,
		TTL:               24 * time.Hour,
		ReconcileInterval: 10 * time.Minute,
	}
}

// DefaultAssignmentConfig 返回默认分配引擎配置
func DefaultAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		AutoAssign:       false,
		AssignDelay:      1 * time.Second,
		HistoryLimit:     20,
		SessionTimeout:   10 * time.Minute,
		NotifyOnTransfer: true,
		NotifyOnReassign: true,
	}
}

// DefaultWebhookConfig 返回默认 Webhook 配置
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		URL:       "",
		Timeout:   5 * time.Second,
		RateLimit: 10,
	}
}

// DefaultConnectorConfig 返回默认连接器配置
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		BaseURL: "",
		Timeout: 10 * time.Second,
	}
}

// DefaultMessages 返回默认英文通知模板
func DefaultMessages() MessagesConfig {
	return MessagesConfig{
		"en": {
			"transfer":  "You are being transferred to a human operator, please wait.",
			"assigned":  "You are now talking to {{.AgentName}}.",
			"reassign":  "Your conversation is being transferred to another operator.",
			"resolved":  "The conversation has been closed by the operator.",
			"rejected":  "No operator is able to take your request right now.",
			"timed_out": "No operator picked up in time, returning you to the assistant.",
			"no_agents": "No operators are currently available, returning you to the assistant.",
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
