package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	S3     S3Config
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Outbox OutboxConfig
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Bucket          string
	PublicBaseURL   string
	MaxUploadBytes  int64
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
}

type AuthConfig struct {
	// PrivateKey 用於簽發和驗證 access token
	PrivateKey ed25519.PrivateKey
	Issuer     string
	Audience   string
	// ExpireDuration 是 access token 的有效期限
	ExpireDuration time.Duration
	// NonceTTL 是錢包登入挑戰字串的有效期限
	NonceTTL time.Duration
}

type OutboxConfig struct {
	// LeaderKey 是發布器 leader 選舉用的鎖鍵
	LeaderKey    string
	BatchSize    int
	PollInterval time.Duration
}
