//go:build ignore

// This script mints an operator token for the relay admin endpoints
// (manual retry, transaction journal).
// Run with: go run scripts/generate-admin-token.go -config config.yaml -sub alice -ttl 1h

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apphttp "github.com/chainsafe/nft-migration-relay/pkg/app/http"
	"github.com/chainsafe/nft-migration-relay/pkg/config"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	subject := flag.String("sub", "operator", "Operator name recorded in the retry logs")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Relay.AdminJWTSecret == "" {
		fmt.Fprintln(os.Stderr, "relay.admin_jwt_secret is not set; admin endpoints are disabled")
		os.Exit(1)
	}

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    apphttp.AdminIssuer,
		Subject:   *subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	}).SignedString([]byte(cfg.Relay.AdminJWTSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	// Sanity check with the same validation the relay applies.
	if _, err := apphttp.ValidateAdminToken(token, []byte(cfg.Relay.AdminJWTSecret)); err != nil {
		fmt.Fprintf(os.Stderr, "Generated token does not validate: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "\nUse with: curl -H \"Authorization: Bearer <token>\" -X POST http://localhost:8080/api/v1/migrations/<id>/retry\n")
}
