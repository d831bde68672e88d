// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap loads the configuration file at configPath, applies defaults
// and environment overrides prefixed with CORVA_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or CORVA_DATA_DATABASE_SOURCE: MySQL connection string
//   - JWT_SECRET or CORVA_AUTH_JWT_SECRET: session token verification secret
//   - ENCRYPTION_KEY or CORVA_AUTH_ENCRYPTION_KEY: 32-byte credential encryption key
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CORVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "CORVA_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "CORVA_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "CORVA_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("auth.jwt.secret", "JWT_SECRET", "CORVA_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "CORVA_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("providers.acuity.client_id", "ACUITY_CLIENT_ID", "CORVA_PROVIDERS_ACUITY_CLIENT_ID")
	_ = v.BindEnv("providers.acuity.client_secret", "ACUITY_CLIENT_SECRET", "CORVA_PROVIDERS_ACUITY_CLIENT_SECRET")
	_ = v.BindEnv("providers.square.client_id", "SQUARE_CLIENT_ID", "CORVA_PROVIDERS_SQUARE_CLIENT_ID")
	_ = v.BindEnv("providers.square.client_secret", "SQUARE_CLIENT_SECRET", "CORVA_PROVIDERS_SQUARE_CLIENT_SECRET")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			Grpc: &ServerGRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: durationpb.New(v.GetDuration("server.grpc.timeout")),
			},
		},
		Data: &Data{
			Database: &DataDatabase{
				Driver:          v.GetString("data.database.driver"),
				Source:          v.GetString("data.database.source"),
				MaxIdleConns:    v.GetInt32("data.database.max_idle_conns"),
				MaxOpenConns:    v.GetInt32("data.database.max_open_conns"),
				ConnMaxLifetime: durationpb.New(v.GetDuration("data.database.conn_max_lifetime")),
			},
			Redis: &DataRedis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Auth: &Auth{
			Jwt: &AuthJWT{
				Secret: v.GetString("auth.jwt.secret"),
				Cookie: v.GetString("auth.jwt.cookie"),
			},
			Encryption: &AuthEncryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Providers: &Providers{
			Acuity: loadProvider(v, "providers.acuity"),
			Square: loadProvider(v, "providers.square"),
		},
		Sync: &Sync{
			DefaultWindow:  durationpb.New(v.GetDuration("sync.default_window")),
			MaxWindow:      durationpb.New(v.GetDuration("sync.max_window")),
			MemoTtl:        durationpb.New(v.GetDuration("sync.memo_ttl")),
			MemoSize:       v.GetInt32("sync.memo_size"),
			RefreshSkew:    durationpb.New(v.GetDuration("sync.refresh_skew")),
			RefreshCron:    v.GetString("sync.refresh_cron"),
			RefreshAhead:   durationpb.New(v.GetDuration("sync.refresh_ahead")),
			RefreshWorkers: v.GetInt32("sync.refresh_workers"),
			AppUrl:         v.GetString("sync.app_url"),
		},
		Otp: &Otp{
			WebTokenTtl:  durationpb.New(v.GetDuration("otp.web_token_ttl")),
			OtpTtl:       durationpb.New(v.GetDuration("otp.otp_ttl")),
			IssueLimit:   v.GetInt32("otp.issue_limit"),
			IssueWindow:  durationpb.New(v.GetDuration("otp.issue_window")),
			VerifyLimit:  v.GetInt32("otp.verify_limit"),
			VerifyWindow: durationpb.New(v.GetDuration("otp.verify_window")),
			StateTtl:     durationpb.New(v.GetDuration("otp.state_ttl")),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

func loadProvider(v *viper.Viper, prefix string) *Provider {
	return &Provider{
		ClientId:     v.GetString(prefix + ".client_id"),
		ClientSecret: v.GetString(prefix + ".client_secret"),
		RedirectUrl:  v.GetString(prefix + ".redirect_url"),
		AuthUrl:      v.GetString(prefix + ".auth_url"),
		TokenUrl:     v.GetString(prefix + ".token_url"),
		ApiUrl:       v.GetString(prefix + ".api_url"),
		Scopes:       v.GetStringSlice(prefix + ".scopes"),
		ProxyUrl:     v.GetString(prefix + ".proxy_url"),
		Timeout:      durationpb.New(v.GetDuration(prefix + ".timeout")),
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.database.max_idle_conns", 10)
	v.SetDefault("data.database.max_open_conns", 50)
	v.SetDefault("data.database.conn_max_lifetime", time.Hour)
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Auth defaults
	v.SetDefault("auth.jwt.cookie", "sb-access-token")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Provider defaults
	v.SetDefault("providers.acuity.auth_url", "https://acuityscheduling.com/oauth2/authorize")
	v.SetDefault("providers.acuity.token_url", "https://acuityscheduling.com/oauth2/token")
	v.SetDefault("providers.acuity.api_url", "https://acuityscheduling.com")
	v.SetDefault("providers.acuity.scopes", []string{"api-v1"})
	v.SetDefault("providers.acuity.timeout", 15*time.Second)

	v.SetDefault("providers.square.auth_url", "https://connect.squareup.com/oauth2/authorize")
	v.SetDefault("providers.square.token_url", "https://connect.squareup.com/oauth2/token")
	v.SetDefault("providers.square.api_url", "https://connect.squareup.com")
	v.SetDefault("providers.square.scopes", []string{"APPOINTMENTS_READ", "APPOINTMENTS_ALL_READ", "MERCHANT_PROFILE_READ"})
	v.SetDefault("providers.square.timeout", 15*time.Second)

	// Sync defaults
	v.SetDefault("sync.default_window", 30*24*time.Hour)
	v.SetDefault("sync.max_window", 90*24*time.Hour)
	v.SetDefault("sync.memo_ttl", time.Minute)
	v.SetDefault("sync.memo_size", 1024)
	v.SetDefault("sync.refresh_skew", time.Minute)
	v.SetDefault("sync.refresh_cron", "0 */15 * * * *")
	v.SetDefault("sync.refresh_ahead", 30*time.Minute)
	v.SetDefault("sync.refresh_workers", 5)
	v.SetDefault("sync.app_url", "http://localhost:3000")

	// One-time code defaults
	v.SetDefault("otp.web_token_ttl", 5*time.Minute)
	v.SetDefault("otp.otp_ttl", 10*time.Minute)
	v.SetDefault("otp.issue_limit", 5)
	v.SetDefault("otp.issue_window", time.Minute)
	v.SetDefault("otp.verify_limit", 10)
	v.SetDefault("otp.verify_window", 10*time.Minute)
	v.SetDefault("otp.state_ttl", 10*time.Minute)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Auth == nil || bc.Auth.Jwt == nil || bc.Auth.Jwt.Secret == "" {
		missingFields = append(missingFields, "auth.jwt.secret (JWT_SECRET)")
	}

	if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
		missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if n := len(bc.Auth.Encryption.Key); n != 32 {
		return fmt.Errorf("auth.encryption.key must be exactly 32 bytes, got %d", n)
	}

	if bc.Sync != nil && bc.Sync.DefaultWindow.AsDuration() > bc.Sync.MaxWindow.AsDuration() {
		return fmt.Errorf("sync.default_window (%s) exceeds sync.max_window (%s)",
			bc.Sync.DefaultWindow.AsDuration(), bc.Sync.MaxWindow.AsDuration())
	}

	return nil
}
