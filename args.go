package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hammer/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// auth config
	pflag.String("auth-private-key", "", "base64 encoded ed25519 private key or seed")
	pflag.String("auth-issuer", "hammer", "")
	pflag.String("auth-audience", "hammer", "")
	pflag.Duration("auth-token-ttl", 3*time.Hour, "")
	pflag.Duration("auth-nonce-ttl", 2*time.Minute, "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")
	pflag.Int64("s3-max-upload-bytes", 5<<20, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "hammer:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "hammer-shared-event-stream", "")

	// outbox publisher config
	pflag.String("outbox-leader-key", "hammer:outbox:leader", "")
	pflag.Int("outbox-batch-size", 64, "")
	pflag.Duration("outbox-poll-interval", 200*time.Millisecond, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("HAMMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			Auth: api.AuthConfig{
				PrivateKey:     parsePrivateKey(viper.GetString("auth-private-key")),
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-token-ttl"),
				NonceTTL:       viper.GetDuration("auth-nonce-ttl"),
			},
			S3: api.S3Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Bucket:          viper.GetString("s3-bucket"),
				PublicBaseURL:   viper.GetString("s3-public-base-url"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
				MaxUploadBytes:  viper.GetInt64("s3-max-upload-bytes"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			Outbox: api.OutboxConfig{
				LeaderKey:    viper.GetString("outbox-leader-key"),
				BatchSize:    viper.GetInt("outbox-batch-size"),
				PollInterval: viper.GetDuration("outbox-poll-interval"),
			},
		},
	}
}

// parsePrivateKey 解析base64編碼的ed25519私鑰，接受seed或完整私鑰
func parsePrivateKey(encoded string) ed25519.PrivateKey {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw)
	default:
		return nil
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && args.ServerConfig.Auth.PrivateKey != nil && args.ServerConfig.DB.Host != "" && args.ServerConfig.Redis.Addr != ""
}
