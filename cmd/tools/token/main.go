package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/obs"
)

func main() {
	subject := flag.String("sub", "ops", "token subject")
	roles := flag.String("roles", "admin", "comma separated roles")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "token").Logger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	svc, err := app.NewAuth(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	token, expiresAt, err := svc.Sign(*subject, roleList, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("sign token")
	}
	logger.Info().Str("sub", *subject).Strs("roles", roleList).Time("expires_at", expiresAt).Msg("token issued")
	fmt.Println(token)
}
