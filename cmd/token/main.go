// Command token mints admin bearer tokens signed with the server's JWT settings.
//
//	JWT_SECRET=... go run ./cmd/token -tenant <uuid> -sub ops@example.com -role tenant_admin
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/auth"
	"github.com/mscan/mscan-core/internal/config"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id the token is bound to")
	subject := flag.String("sub", "", "token subject, usually the operator's email")
	role := flag.String("role", string(auth.RoleTenantAdmin), "tenant_admin or super_admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatal().Err(err).Str("tenant", *tenant).Msg("invalid tenant id")
	}
	r := auth.Role(*role)
	if r != auth.RoleTenantAdmin && r != auth.RoleSuperAdmin {
		log.Fatal().Str("role", *role).Msg("role must be tenant_admin or super_admin")
	}
	if *subject == "" {
		log.Fatal().Msg("-sub is required")
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	token, expires, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, lifetime).Issue(tenantID, *subject, r)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}

	fmt.Fprintln(os.Stdout, token)
	log.Info().Time("expires_at", expires.UTC().Truncate(time.Second)).Msg("token issued")
}
