package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// AllPermissions is granted to every request when auth is disabled.
var AllPermissions = []Permission{PermRead, PermWrite, PermAdmin}

type Options struct {
	Enabled            bool
	Secret             string
	AccessTokenTTL     time.Duration
	MachineTokenHashes []string
}

// Service authenticates bearer tokens: signed JWTs or configured
// machine tokens.
type Service struct {
	enabled       bool
	jwtHandler    *JWTHandler
	machineTokens *MachineTokenGenerator
	machineHashes []string
	logger        *zap.Logger
}

func NewService(opts Options, logger *zap.Logger) *Service {
	ttl := opts.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		enabled:       opts.Enabled,
		jwtHandler:    NewJWTHandler(opts.Secret, ttl),
		machineTokens: NewMachineTokenGenerator(),
		machineHashes: opts.MachineTokenHashes,
		logger:        logger,
	}
}

func (a *Service) Enabled() bool {
	return a.enabled
}

func (a *Service) JWT() *JWTHandler {
	return a.jwtHandler
}

// Authenticate resolves a bearer token to its permissions.
func (a *Service) Authenticate(token string) ([]Permission, error) {
	if !a.enabled {
		return AllPermissions, nil
	}

	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return roleToPermissions(claims.Role), nil
	}

	if a.validMachineToken(token) {
		return []Permission{PermRead, PermWrite}, nil
	}

	a.logger.Debug("Rejected token")
	return nil, ErrInvalidToken
}

func (a *Service) validMachineToken(token string) bool {
	if !a.machineTokens.ValidateTokenFormat(token) {
		return false
	}
	hash := a.machineTokens.HashToken(token)
	for _, known := range a.machineHashes {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(known)) == 1 {
			return true
		}
	}
	return false
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermRead, PermWrite, PermAdmin}
	case "operator":
		return []Permission{PermRead, PermWrite}
	default:
		return []Permission{PermRead}
	}
}

func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}
