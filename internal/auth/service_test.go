package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testPasswordParams = PasswordParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type refreshEntry struct {
	accountID uuid.UUID
	revoked   bool
}

type memStore struct {
	mu sync.Mutex
	// lookupDelay widens the window between claiming a refresh token and
	// loading its account.
	lookupDelay time.Duration
	accounts map[uuid.UUID]*storage.Account
	refresh  map[string]*refreshEntry
	gateways map[uuid.UUID]*storage.GatewayToken
	events   []string
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]*storage.Account),
		refresh:  make(map[string]*refreshEntry),
		gateways: make(map[uuid.UUID]*storage.GatewayToken),
	}
}

func (m *memStore) GetAccountByUsername(_ context.Context, username string) (*storage.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memStore) GetAccountByID(_ context.Context, id uuid.UUID) (*storage.Account, error) {
	time.Sleep(m.lookupDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) CreateAccount(_ context.Context, a *storage.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Username == a.Username {
			return types.ErrConflict
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) ListAccounts(_ context.Context) ([]*storage.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateAccount(_ context.Context, id uuid.UUID, u storage.AccountUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return types.ErrNotFound
	}
	if u.PasswordHash != nil {
		a.PasswordHash = *u.PasswordHash
	}
	if u.Role != nil {
		a.Role = *u.Role
	}
	if u.Enabled != nil {
		a.Enabled = *u.Enabled
	}
	if u.FirstName != nil {
		a.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		a.LastName = *u.LastName
	}
	return nil
}

func (m *memStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *memStore) CountAccountsByRole(_ context.Context, role string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.accounts[id].LastLoginAt = &now
	return nil
}

func (m *memStore) IncrementFailedLoginAttempts(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	if a.LockedUntil != nil && time.Now().After(*a.LockedUntil) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= maxAttempts {
		until := time.Now().Add(lockFor)
		a.LockedUntil = &until
	}
	return nil
}

func (m *memStore) ResetFailedLoginAttempts(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (m *memStore) StoreRefreshToken(_ context.Context, accountID uuid.UUID, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = &refreshEntry{accountID: accountID}
	return nil
}

func (m *memStore) ClaimRefreshToken(_ context.Context, tokenHash string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.refresh[tokenHash]
	if !ok || e.revoked {
		return uuid.Nil, types.ErrUnauthorized
	}
	e.revoked = true
	return e.accountID, nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.refresh[tokenHash]; ok {
		e.revoked = true
	}
	return nil
}

func (m *memStore) RevokeAllRefreshTokens(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.refresh {
		if e.accountID == accountID {
			e.revoked = true
		}
	}
	return nil
}

func (m *memStore) CreateGatewayToken(_ context.Context, t *storage.GatewayToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	cp := *t
	m.gateways[t.ID] = &cp
	return nil
}

func (m *memStore) GetGatewayTokenByHash(_ context.Context, tokenHash string) (*storage.GatewayToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.gateways {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memStore) UpdateGatewayTokenLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.gateways[id].LastUsedAt = &now
	return nil
}

func (m *memStore) ListGatewayTokens(_ context.Context) ([]*storage.GatewayToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.GatewayToken, 0, len(m.gateways))
	for _, t := range m.gateways {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) DeleteGatewayToken(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gateways[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.gateways, id)
	return nil
}

func (m *memStore) LogAuthEvent(_ context.Context, eventType string, _, _ *uuid.UUID, _, _ string, _ bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecretEnv:           "SIG_TEST_JWT_SECRET",
		Issuer:                 "sensorintegration-test",
		AccessTokenTTL:         time.Hour,
		RefreshTokenTTL:        24 * time.Hour,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Minute,
		BootstrapAdmin:         "admin",
		BootstrapPasswordEnv:   "SIG_TEST_ADMIN_PASSWORD",
	}
}

func newTestService(t *testing.T) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := NewAuthService(store, testAuthConfig(), zap.NewNop())
	svc.passwordHasher = NewPasswordHasher(testPasswordParams)
	return svc, store
}

func TestRegisterCreatesDisabledOperator(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "jdoe", "s3cret-pass", "John", "Doe")
	require.NoError(t, err)
	assert.False(t, account.Enabled)
	assert.Equal(t, RoleOperator, account.Role)
	assert.NotContains(t, account.PasswordHash, "s3cret-pass")

	_, err = svc.SignIn(ctx, "jdoe", "s3cret-pass", "127.0.0.1", "test")
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = svc.Activate(ctx, account.ID)
	require.NoError(t, err)

	pair, err := svc.SignIn(ctx, "jdoe", "s3cret-pass", "127.0.0.1", "test")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)

	principal, err := svc.ValidateToken(ctx, pair.AccessToken, "", "")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", principal.Username)
	assert.Equal(t, RoleOperator, principal.Role)
	assert.True(t, principal.Has(PermOperator))
	assert.False(t, principal.Has(PermIngest))
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "jo", "long-enough", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.Register(ctx, "jdoe", "short", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.CreateAccount(ctx, NewAccount{Username: "boss", Password: "long-enough", Role: "root"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.Register(ctx, "jdoe", "long-enough", "", "")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "jdoe", "long-enough", "", "")
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestSignInWrongPasswordLocksAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, NewAccount{Username: "tech", Password: "correct-horse", Role: RoleTechnician, Enabled: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.SignIn(ctx, "tech", "wrong-password", "", "")
		assert.ErrorIs(t, err, types.ErrUnauthorized)
	}

	_, err = svc.SignIn(ctx, "tech", "correct-horse", "", "")
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestSignInUnknownUser(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.SignIn(context.Background(), "ghost", "whatever-pass", "", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Contains(t, store.events, "sign_in_failed")
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, NewAccount{Username: "tech", Password: "correct-horse", Role: RoleTechnician, Enabled: true})
	require.NoError(t, err)

	pair, err := svc.SignIn(ctx, "tech", "correct-horse", "", "")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	require.NoError(t, svc.Logout(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestRefreshTokenRedeemedOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, NewAccount{Username: "tech", Password: "correct-horse", Role: RoleTechnician, Enabled: true})
	require.NoError(t, err)
	pair, err := svc.SignIn(ctx, "tech", "correct-horse", "", "")
	require.NoError(t, err)

	store.lookupDelay = 20 * time.Millisecond

	const callers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, types.ErrUnauthorized) {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, rejected)
}

func TestExpiredLockStartsFreshCount(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, NewAccount{Username: "tech", Password: "correct-horse", Role: RoleTechnician, Enabled: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.SignIn(ctx, "tech", "wrong-password", "", "")
		require.ErrorIs(t, err, types.ErrUnauthorized)
	}

	expired := time.Now().Add(-time.Second)
	store.mu.Lock()
	store.accounts[account.ID].LockedUntil = &expired
	store.mu.Unlock()

	_, err = svc.SignIn(ctx, "tech", "wrong-password", "", "")
	require.ErrorIs(t, err, types.ErrUnauthorized)

	stored, err := store.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)

	_, err = svc.SignIn(ctx, "tech", "correct-horse", "", "")
	assert.NoError(t, err)
}

func TestDisablingAccountRevokesSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, NewAccount{Username: "op", Password: "correct-horse", Enabled: true})
	require.NoError(t, err)

	pair, err := svc.SignIn(ctx, "op", "correct-horse", "", "")
	require.NoError(t, err)

	disabled := false
	updated, err := svc.UpdateAccount(ctx, account.ID, AccountChanges{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestBootstrapAdmin(t *testing.T) {
	t.Setenv("SIG_TEST_ADMIN_PASSWORD", "bootstrap-pass")
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.BootstrapAdmin(ctx))
	require.NoError(t, svc.BootstrapAdmin(ctx))

	n, err := store.CountAccountsByRole(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pair, err := svc.SignIn(ctx, "admin", "bootstrap-pass", "", "")
	require.NoError(t, err)

	principal, err := svc.ValidateToken(ctx, pair.AccessToken, "", "")
	require.NoError(t, err)
	assert.True(t, principal.Has(PermAdmin))
	assert.True(t, principal.Has(PermIngest))
}

func TestBootstrapAdminGeneratesPassword(t *testing.T) {
	t.Setenv("SIG_TEST_ADMIN_PASSWORD", "")
	svc, store := newTestService(t)

	require.NoError(t, svc.BootstrapAdmin(context.Background()))

	admin, err := store.GetAccountByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, admin.Enabled)
}

func TestGatewayTokenLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, gt, err := svc.CreateGatewayToken(ctx, "line-1 gateway", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest"}, gt.Permissions)
	assert.True(t, NewGatewayTokenGenerator().ValidateTokenFormat(token))

	principal, err := svc.ValidateToken(ctx, token, "10.0.0.5", "gw/1.0")
	require.NoError(t, err)
	assert.Nil(t, principal.AccountID)
	assert.Equal(t, gt.ID, *principal.GatewayTokenID)
	assert.True(t, principal.Has(PermIngest))
	assert.False(t, principal.Has(PermOperator))

	require.NoError(t, svc.DeleteGatewayToken(ctx, gt.ID))
	_, err = svc.ValidateToken(ctx, token, "", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, _, err = svc.CreateGatewayToken(ctx, " ", nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ValidateToken(context.Background(), "not-a-jwt", "", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = svc.ValidateToken(context.Background(), "sig_tooshort", "", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestRoleToPermissions(t *testing.T) {
	assert.ElementsMatch(t, []Permission{PermOperator}, RoleToPermissions(RoleOperator))
	assert.ElementsMatch(t, []Permission{PermOperator, PermTechnician, PermIngest}, RoleToPermissions(RoleTechnician))
	assert.Contains(t, RoleToPermissions(RoleAdmin), PermAdmin)
	assert.Equal(t, []Permission{PermOperator}, RoleToPermissions("unknown"))
}
