package main

import (
	"errors"

	"Corva/internal/conf"
	"Corva/pkg/crypto"
	"Corva/pkg/oauth"
	"Corva/pkg/oauth/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// newCryptoService creates the credential cipher from config.
func newCryptoService(auth *conf.Auth) (*crypto.AESCrypto, error) {
	if auth == nil || auth.Encryption == nil || auth.Encryption.Key == "" {
		return nil, errors.New("auth.encryption.key is required")
	}
	return crypto.NewAESCrypto([]byte(auth.Encryption.Key))
}

// newProviderManager registers every provider that has client credentials,
// Acuity first so pull results list it first.
func newProviderManager(rdb *redis.Client, pc *conf.Providers, oc *conf.Otp, logger log.Logger) (*oauth.Manager, error) {
	var stateTTL = oauth.DefaultStateTTL
	if oc != nil && oc.StateTtl != nil {
		stateTTL = oc.StateTtl.AsDuration()
	}
	m := oauth.NewManager(rdb, stateTTL, logger)
	if pc == nil {
		return m, nil
	}

	if pc.Acuity.Enabled() {
		p, err := providers.NewAcuityProvider(pc.Acuity, logger)
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}
	if pc.Square.Enabled() {
		p, err := providers.NewSquareProvider(pc.Square, logger)
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}
	if len(m.Types()) == 0 {
		log.NewHelper(logger).Warnw("msg", "no calendar provider configured", "type", "startup")
	}
	return m, nil
}
