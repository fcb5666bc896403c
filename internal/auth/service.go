package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
	PermIngest     Permission = "ingest"
)

const (
	RoleOperator   = "operator"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

// Store is the persistence the auth service needs.
type Store interface {
	GetAccountByUsername(ctx context.Context, username string) (*storage.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	CreateAccount(ctx context.Context, a *storage.Account) error
	ListAccounts(ctx context.Context) ([]*storage.Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, u storage.AccountUpdate) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	CountAccountsByRole(ctx context.Context, role string) (int64, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	IncrementFailedLoginAttempts(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) error
	ResetFailedLoginAttempts(ctx context.Context, id uuid.UUID) error

	StoreRefreshToken(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) error
	ClaimRefreshToken(ctx context.Context, tokenHash string) (uuid.UUID, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, accountID uuid.UUID) error

	CreateGatewayToken(ctx context.Context, t *storage.GatewayToken) error
	GetGatewayTokenByHash(ctx context.Context, tokenHash string) (*storage.GatewayToken, error)
	UpdateGatewayTokenLastUsed(ctx context.Context, id uuid.UUID) error
	ListGatewayTokens(ctx context.Context) ([]*storage.GatewayToken, error)
	DeleteGatewayToken(ctx context.Context, id uuid.UUID) error

	LogAuthEvent(ctx context.Context, eventType string, accountID, gatewayTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) error
}

// Principal is the authenticated caller of a request.
type Principal struct {
	AccountID      *uuid.UUID
	Username       string
	Role           string
	GatewayTokenID *uuid.UUID
	Permissions    []Permission
}

func (p *Principal) Has(required Permission) bool {
	for _, perm := range p.Permissions {
		if perm == required {
			return true
		}
	}
	return false
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// NewAccount is the input of an admin-side account creation.
type NewAccount struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Enabled   bool
}

// AccountChanges holds the optional fields of an account update.
type AccountChanges struct {
	Password  *string
	Role      *string
	Enabled   *bool
	FirstName *string
	LastName  *string
}

type AuthService struct {
	storage         Store
	cfg             config.AuthConfig
	logger          *zap.Logger
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	gatewayTokenGen *GatewayTokenGenerator
}

func NewAuthService(store Store, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		storage:         store,
		cfg:             cfg,
		logger:          logger,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.Issuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:  NewPasswordHasher(DefaultPasswordParams),
		gatewayTokenGen: NewGatewayTokenGenerator(),
	}
}

func validRole(role string) bool {
	switch role {
	case RoleOperator, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

func validateCredentials(username, password string) error {
	if len(strings.TrimSpace(username)) < 3 {
		return fmt.Errorf("%w: username must have at least 3 characters", types.ErrInvalidInput)
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must have at least 8 characters", types.ErrInvalidInput)
	}
	return nil
}

// Register creates a self-service account. It starts disabled with the
// operator role until an admin activates it.
func (a *AuthService) Register(ctx context.Context, username, password, firstName, lastName string) (*storage.Account, error) {
	return a.CreateAccount(ctx, NewAccount{
		Username:  username,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Role:      RoleOperator,
		Enabled:   false,
	})
}

func (a *AuthService) CreateAccount(ctx context.Context, in NewAccount) (*storage.Account, error) {
	if err := validateCredentials(in.Username, in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = RoleOperator
	}
	if !validRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, in.Role)
	}

	passwordHash, err := a.passwordHasher.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &storage.Account{
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: passwordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		Enabled:      in.Enabled,
	}
	if err := a.storage.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	a.logger.Info("Account created",
		zap.String("username", account.Username),
		zap.String("role", account.Role),
		zap.Bool("enabled", account.Enabled))
	return account, nil
}

// SignIn authenticates an account and returns a token pair
func (a *AuthService) SignIn(ctx context.Context, username, password, ipAddress, userAgent string) (*TokenPair, error) {
	account, err := a.storage.GetAccountByUsername(ctx, username)
	if err != nil {
		a.logAuthEvent(ctx, "sign_in_failed", nil, nil, ipAddress, userAgent, false, "account not found")
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthorized)
		}
		return nil, err
	}

	// Check if account is locked
	if account.LockedUntil != nil && time.Now().Before(*account.LockedUntil) {
		a.logAuthEvent(ctx, "sign_in_failed", &account.ID, nil, ipAddress, userAgent, false, "account locked")
		return nil, fmt.Errorf("%w: account locked until %s", types.ErrForbidden, account.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, account.PasswordHash)
	if err != nil || !valid {
		if err := a.storage.IncrementFailedLoginAttempts(ctx, account.ID, a.cfg.MaxFailedLoginAttempts, a.cfg.AccountLockDuration); err != nil {
			a.logger.Error("Failed to record failed sign-in", zap.String("username", username), zap.Error(err))
		}
		a.logAuthEvent(ctx, "sign_in_failed", &account.ID, nil, ipAddress, userAgent, false, "invalid password")
		return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthorized)
	}

	if !account.Enabled {
		a.logAuthEvent(ctx, "sign_in_failed", &account.ID, nil, ipAddress, userAgent, false, "account disabled")
		return nil, fmt.Errorf("%w: account is not activated", types.ErrForbidden)
	}

	if err := a.storage.ResetFailedLoginAttempts(ctx, account.ID); err != nil {
		a.logger.Warn("Failed to reset failed sign-in counter", zap.Error(err))
	}

	pair, err := a.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	_ = a.storage.UpdateLastLogin(ctx, account.ID)
	a.logAuthEvent(ctx, "sign_in_success", &account.ID, nil, ipAddress, userAgent, true, "")

	return pair, nil
}

func (a *AuthService) issueTokens(ctx context.Context, account *storage.Account) (*TokenPair, error) {
	accessToken, err := a.jwtHandler.GenerateAccessToken(account.ID, account.Username, account.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(a.jwtHandler.RefreshTokenTTL())
	if err := a.storage.StoreRefreshToken(ctx, account.ID, hashRefreshToken(refreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.jwtHandler.AccessTokenTTL().Seconds()),
	}, nil
}

// Refresh rotates a refresh token into a new token pair. The old token is
// claimed before anything is issued, so it can be redeemed once.
func (a *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	accountID, err := a.storage.ClaimRefreshToken(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: invalid refresh token", types.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to claim refresh token: %w", err)
	}

	account, err := a.storage.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: account not found", types.ErrUnauthorized)
	}
	if !account.Enabled {
		return nil, fmt.Errorf("%w: account is disabled", types.ErrForbidden)
	}

	return a.issueTokens(ctx, account)
}

func (a *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return a.storage.RevokeRefreshToken(ctx, hashRefreshToken(refreshToken))
}

func (a *AuthService) LogoutAll(ctx context.Context, accountID uuid.UUID) error {
	return a.storage.RevokeAllRefreshTokens(ctx, accountID)
}

func (a *AuthService) GetAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error) {
	return a.storage.GetAccountByID(ctx, id)
}

func (a *AuthService) ListAccounts(ctx context.Context) ([]*storage.Account, error) {
	return a.storage.ListAccounts(ctx)
}

// Activate enables an account created through Register.
func (a *AuthService) Activate(ctx context.Context, id uuid.UUID) (*storage.Account, error) {
	enabled := true
	return a.UpdateAccount(ctx, id, AccountChanges{Enabled: &enabled})
}

func (a *AuthService) UpdateAccount(ctx context.Context, id uuid.UUID, changes AccountChanges) (*storage.Account, error) {
	var update storage.AccountUpdate

	if changes.Password != nil {
		if len(*changes.Password) < 8 {
			return nil, fmt.Errorf("%w: password must have at least 8 characters", types.ErrInvalidInput)
		}
		passwordHash, err := a.passwordHasher.HashPassword(*changes.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		update.PasswordHash = &passwordHash
	}
	if changes.Role != nil {
		if !validRole(*changes.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, *changes.Role)
		}
		update.Role = changes.Role
	}
	update.Enabled = changes.Enabled
	update.FirstName = changes.FirstName
	update.LastName = changes.LastName

	if err := a.storage.UpdateAccount(ctx, id, update); err != nil {
		return nil, err
	}

	// Disabling an account or changing its password ends its sessions
	if changes.Password != nil || (changes.Enabled != nil && !*changes.Enabled) {
		if err := a.storage.RevokeAllRefreshTokens(ctx, id); err != nil {
			a.logger.Warn("Failed to revoke refresh tokens", zap.String("account_id", id.String()), zap.Error(err))
		}
	}

	return a.storage.GetAccountByID(ctx, id)
}

func (a *AuthService) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return a.storage.DeleteAccount(ctx, id)
}

// BootstrapAdmin creates the configured admin account when no admin exists.
// Without a configured password one is generated and logged once.
func (a *AuthService) BootstrapAdmin(ctx context.Context) error {
	admins, err := a.storage.CountAccountsByRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}

	password := a.cfg.BootstrapPassword()
	generated := password == ""
	if generated {
		buf := make([]byte, 18)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate admin password: %w", err)
		}
		password = base64.RawURLEncoding.EncodeToString(buf)
	}

	account, err := a.CreateAccount(ctx, NewAccount{
		Username: a.cfg.BootstrapAdmin,
		Password: password,
		Role:     RoleAdmin,
		Enabled:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	if generated {
		a.logger.Warn("Bootstrap admin created with generated password, change it after first sign-in",
			zap.String("username", account.Username),
			zap.String("password", password))
	} else {
		a.logger.Info("Bootstrap admin created", zap.String("username", account.Username))
	}
	return nil
}

// CreateGatewayToken issues a token for a sensor gateway. The plaintext is
// returned once and only its hash is stored.
func (a *AuthService) CreateGatewayToken(ctx context.Context, name string, permissions []string, machineID, createdBy *uuid.UUID) (string, *storage.GatewayToken, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("%w: token name is required", types.ErrInvalidInput)
	}
	if len(permissions) == 0 {
		permissions = []string{string(PermIngest)}
	}

	token, tokenHash, err := a.gatewayTokenGen.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	gt := &storage.GatewayToken{
		TokenHash:          tokenHash,
		Name:               name,
		Permissions:        permissions,
		MachineID:          machineID,
		CreatedByAccountID: createdBy,
	}
	if err := a.storage.CreateGatewayToken(ctx, gt); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	a.logAuthEvent(ctx, "gateway_token_created", createdBy, &gt.ID, "", "", true, "")
	return token, gt, nil
}

func (a *AuthService) ListGatewayTokens(ctx context.Context) ([]*storage.GatewayToken, error) {
	return a.storage.ListGatewayTokens(ctx)
}

func (a *AuthService) DeleteGatewayToken(ctx context.Context, id uuid.UUID) error {
	return a.storage.DeleteGatewayToken(ctx, id)
}

// ValidateGatewayToken resolves a gateway token into a principal
func (a *AuthService) ValidateGatewayToken(ctx context.Context, token, ipAddress, userAgent string) (*Principal, error) {
	if !a.gatewayTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("%w: invalid token format", types.ErrUnauthorized)
	}

	gt, err := a.storage.GetGatewayTokenByHash(ctx, a.gatewayTokenGen.HashToken(token))
	if err != nil {
		a.logAuthEvent(ctx, "gateway_token_failed", nil, nil, ipAddress, userAgent, false, "token not found")
		return nil, fmt.Errorf("%w: invalid token", types.ErrUnauthorized)
	}

	_ = a.storage.UpdateGatewayTokenLastUsed(ctx, gt.ID)

	permissions := make([]Permission, len(gt.Permissions))
	for i, p := range gt.Permissions {
		permissions[i] = Permission(p)
	}

	return &Principal{
		Username:       gt.Name,
		GatewayTokenID: &gt.ID,
		Permissions:    permissions,
	}, nil
}

// ValidateToken accepts a JWT access token or a gateway token.
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (*Principal, error) {
	if strings.HasPrefix(token, gatewayTokenPrefix) {
		return a.ValidateGatewayToken(ctx, token, ipAddress, userAgent)
	}

	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	}

	accountID := claims.AccountID
	return &Principal{
		AccountID:   &accountID,
		Username:    claims.Subject,
		Role:        claims.Scope,
		Permissions: RoleToPermissions(claims.Scope),
	}, nil
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermTechnician, PermIngest, PermAdmin}
	case RoleTechnician:
		return []Permission{PermOperator, PermTechnician, PermIngest}
	default:
		return []Permission{PermOperator}
	}
}

func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, accountID, gatewayTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	if err := a.storage.LogAuthEvent(ctx, eventType, accountID, gatewayTokenID, ip, userAgent, success, reason); err != nil {
		a.logger.Debug("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}
