// Package auth issues operator tokens for the admin API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"digestgenie/pkg/config"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/rbac"
	"digestgenie/pkg/util"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type Service struct {
	admin     config.AdminConfig
	jwtSecret string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewService(admin config.AdminConfig, jwt config.JWTConfig, logger *zap.Logger) *Service {
	if admin.Role == "" {
		admin.Role = rbac.RoleViewer
	}
	return &Service{
		admin:     admin,
		jwtSecret: jwt.Secret,
		ttl:       jwt.TTL,
		logger:    logger,
	}
}

// Login checks the configured operator account and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	log := logger.WithTrace(ctx, s.logger)
	if s.admin.PasswordHash == "" {
		log.Warn("Login refused: no operator password configured")
		return "", ErrInvalidCredentials
	}
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	if !util.CheckPassword(password, s.admin.PasswordHash) || !nameOK {
		log.Info("Login failed", zap.String("username", username))
		return "", ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(s.admin.Username, s.admin.Role, s.jwtSecret, s.ttl)
	if err != nil {
		return "", err
	}
	log.Info("Operator logged in", zap.String("username", username), zap.String("role", s.admin.Role))
	return token, nil
}
