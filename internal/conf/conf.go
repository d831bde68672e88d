package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration tree.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Auth      *Auth
	Log       *Log
	Providers *Providers
	Sync      *Sync
	Otp       *Otp
}

type Server struct {
	Http *ServerHTTP
	Grpc *ServerGRPC
}

type ServerHTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

type ServerGRPC struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

type Data struct {
	Database *DataDatabase
	Redis    *DataRedis
}

type DataDatabase struct {
	Driver          string
	Source          string
	MaxIdleConns    int32
	MaxOpenConns    int32
	ConnMaxLifetime *durationpb.Duration
}

type DataRedis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

type Auth struct {
	Jwt        *AuthJWT
	Encryption *AuthEncryption
}

// AuthJWT holds the shared secret used to verify session tokens issued by
// the identity backend. Cookie is the fallback cookie name when no bearer
// header is present.
type AuthJWT struct {
	Secret string
	Cookie string
}

type AuthEncryption struct {
	Key string
}

type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

type Providers struct {
	Acuity *Provider
	Square *Provider
}

// Provider configures one calendar provider adapter.
type Provider struct {
	ClientId     string
	ClientSecret string
	RedirectUrl  string
	AuthUrl      string
	TokenUrl     string
	ApiUrl       string
	Scopes       []string
	ProxyUrl     string
	Timeout      *durationpb.Duration
}

// Enabled reports whether the provider has client credentials configured.
func (p *Provider) Enabled() bool {
	return p != nil && p.ClientId != "" && p.ClientSecret != ""
}

type Sync struct {
	DefaultWindow  *durationpb.Duration
	MaxWindow      *durationpb.Duration
	MemoTtl        *durationpb.Duration
	MemoSize       int32
	RefreshSkew    *durationpb.Duration
	RefreshCron    string
	RefreshAhead   *durationpb.Duration
	RefreshWorkers int32
	AppUrl         string
}

type Otp struct {
	WebTokenTtl  *durationpb.Duration
	OtpTtl       *durationpb.Duration
	IssueLimit   int32
	IssueWindow  *durationpb.Duration
	VerifyLimit  int32
	VerifyWindow *durationpb.Duration
	StateTtl     *durationpb.Duration
}
