package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, username, password_hash, first_name, last_name, enabled, role,
	created_at, updated_at, last_login_at, failed_login_attempts, locked_until`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.FirstName, &a.LastName,
		&a.Enabled, &a.Role, &a.CreatedAt, &a.UpdatedAt, &a.LastLoginAt,
		&a.FailedLoginAttempts, &a.LockedUntil)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByUsername retrieves an account by username
func (p *PostgresClient) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("account %q", username))
	}
	return a, nil
}

func (p *PostgresClient) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("account %s", id))
	}
	return a, nil
}

// CreateAccount inserts a new account; duplicate usernames yield ErrConflict.
func (p *PostgresClient) CreateAccount(ctx context.Context, a *Account) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO accounts (username, password_hash, first_name, last_name, enabled, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, a.Username, a.PasswordHash, a.FirstName, a.LastName, a.Enabled, a.Role).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("account %q", a.Username))
	}
	return nil
}

func (p *PostgresClient) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (p *PostgresClient) UpdateAccount(ctx context.Context, id uuid.UUID, u AccountUpdate) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE accounts SET
			password_hash = COALESCE($2, password_hash),
			role          = COALESCE($3, role),
			enabled       = COALESCE($4, enabled),
			first_name    = COALESCE($5, first_name),
			last_name     = COALESCE($6, last_name),
			updated_at    = NOW()
		WHERE id = $1
	`, id, u.PasswordHash, u.Role, u.Enabled, u.FirstName, u.LastName)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("account %s", id))
}

func (p *PostgresClient) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("account %s", id))
}

func (p *PostgresClient) CountAccountsByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE role = $1`, role).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// UpdateLastLogin updates the last login timestamp
func (p *PostgresClient) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE accounts SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

// IncrementFailedLoginAttempts increments the counter and locks the account once maxAttempts is reached.
// An expired lock starts a fresh count.
func (p *PostgresClient) IncrementFailedLoginAttempts(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = CASE
		        WHEN locked_until < NOW() THEN 1
		        ELSE failed_login_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN (CASE WHEN locked_until < NOW() THEN 0 ELSE failed_login_attempts END) + 1 >= $2
		            THEN NOW() + make_interval(secs => $3)
		        WHEN locked_until < NOW() THEN NULL
		        ELSE locked_until
		    END
		WHERE id = $1
	`, id, maxAttempts, lockFor.Seconds())
	return err
}

// ResetFailedLoginAttempts resets failed login counter
func (p *PostgresClient) ResetFailedLoginAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE accounts SET failed_login_attempts = 0, locked_until = NULL WHERE id = $1
	`, id)
	return err
}

// Refresh Token Methods
func (p *PostgresClient) StoreRefreshToken(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (account_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, accountID, tokenHash, expiresAt)
	return err
}

// ClaimRefreshToken revokes a live refresh token and returns its account.
// Only one caller can claim a given token.
func (p *PostgresClient) ClaimRefreshToken(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := p.pool.QueryRow(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING account_id
	`, tokenHash).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("refresh token is invalid, revoked or expired: %w", types.ErrUnauthorized)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to claim refresh token: %w", err)
	}
	return accountID, nil
}

func (p *PostgresClient) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	return err
}

func (p *PostgresClient) RevokeAllRefreshTokens(ctx context.Context, accountID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID)
	return err
}

// Gateway Token Methods
func (p *PostgresClient) CreateGatewayToken(ctx context.Context, t *GatewayToken) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO gateway_tokens (token_hash, name, permissions, machine_id, created_by_account_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, t.TokenHash, t.Name, t.Permissions, t.MachineID, t.CreatedByAccountID).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return mapError(err, "gateway token")
	}
	return nil
}

const gatewayTokenColumns = `id, token_hash, name, permissions, machine_id, created_at, last_used_at, created_by_account_id`

func scanGatewayToken(row pgx.Row) (*GatewayToken, error) {
	var t GatewayToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.Name, &t.Permissions, &t.MachineID,
		&t.CreatedAt, &t.LastUsedAt, &t.CreatedByAccountID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresClient) GetGatewayTokenByHash(ctx context.Context, tokenHash string) (*GatewayToken, error) {
	t, err := scanGatewayToken(p.pool.QueryRow(ctx,
		`SELECT `+gatewayTokenColumns+` FROM gateway_tokens WHERE token_hash = $1`, tokenHash))
	if err != nil {
		return nil, mapError(err, "gateway token")
	}
	return t, nil
}

func (p *PostgresClient) UpdateGatewayTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE gateway_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

func (p *PostgresClient) ListGatewayTokens(ctx context.Context) ([]*GatewayToken, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+gatewayTokenColumns+` FROM gateway_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*GatewayToken, 0)
	for rows.Next() {
		t, err := scanGatewayToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *PostgresClient) DeleteGatewayToken(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM gateway_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete gateway token: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("gateway token %s", id))
}

// Auth Event Logging
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType string, accountID, gatewayTokenID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, account_id, gateway_token_id, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, eventType, accountID, gatewayTokenID, ipAddress, userAgent, success, reason)
	return err
}
