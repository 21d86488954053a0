// Command issue-token signs an access token with the API's configured secret,
// for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
)

func main() {
	userID := flag.String("user", "", "user id placed in the token")
	role := flag.String("role", string(models.RoleRegistrar), "ADMIN, REGISTRAR or STUDENT")
	studentID := flag.String("student", "", "student id, required for STUDENT tokens")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to JWT_ACCESS_TTL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	expiry := cfg.JWT.AccessTTL
	if *ttl > 0 {
		expiry = *ttl
	}

	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: expiry,
		Issuer:            cfg.JWT.Issuer,
	})
	token, expiresAt, err := auth.IssueToken(service.IssueTokenRequest{
		UserID:    strings.TrimSpace(*userID),
		Role:      models.UserRole(strings.ToUpper(strings.TrimSpace(*role))),
		StudentID: strings.TrimSpace(*studentID),
	})
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if appErr := appErrors.FromError(err); len(appErr.Details) > 0 {
			fields = append(fields, zap.Any("details", appErr.Details))
		}
		logr.Error("token not issued", fields...)
		_ = logr.Sync()
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
