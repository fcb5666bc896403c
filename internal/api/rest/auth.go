package rest

import (
	"net/http"

	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Login request types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Account management
type CreateAccountRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role" binding:"required,oneof=operator technician admin"`
	Enabled   bool   `json:"enabled"`
}

type UpdateAccountRequest struct {
	Password  *string `json:"password,omitempty" binding:"omitempty,min=8"`
	Role      *string `json:"role,omitempty" binding:"omitempty,oneof=operator technician admin"`
	Enabled   *bool   `json:"enabled,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// Gateway tokens
type CreateGatewayTokenRequest struct {
	Name        string     `json:"name" binding:"required"`
	Permissions []string   `json:"permissions"`
	MachineID   *uuid.UUID `json:"machine_id"`
}

type CreateGatewayTokenResponse struct {
	Token       string     `json:"token"` // Only returned once!
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	MachineID   *uuid.UUID `json:"machine_id,omitempty"`
}

// POST /api/v1/auth/register creates a disabled operator account.
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "AUTH", "Invalid request body", err.Error())
		return
	}

	account, err := s.svc.Accounts.Register(c.Request.Context(), req.Username, req.Password, req.FirstName, req.LastName)
	if err != nil {
		s.fail(c, "AUTH", err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "AUTH", "Invalid request body", err.Error())
		return
	}

	pair, err := s.svc.Accounts.SignIn(
		c.Request.Context(),
		req.Username,
		req.Password,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		s.fail(c, "AUTH", err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "AUTH", "Invalid request body", err.Error())
		return
	}

	pair, err := s.svc.Accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, "AUTH", err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "AUTH", "Invalid request body", err.Error())
		return
	}

	if err := s.svc.Accounts.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.fail(c, "AUTH", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// POST /api/v1/auth/logout-all revokes every refresh token of the caller.
func (s *Server) logoutAll(c *gin.Context) {
	principal := auth.GetPrincipal(c)
	if principal == nil || principal.AccountID == nil {
		c.JSON(http.StatusForbidden, types.NewErrorResponse("AUTH_403", "Only accounts can log out", nil))
		return
	}

	if err := s.svc.Accounts.LogoutAll(c.Request.Context(), *principal.AccountID); err != nil {
		s.fail(c, "AUTH", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all sessions revoked"})
}

func (s *Server) getCurrentUser(c *gin.Context) {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Not authenticated", nil))
		return
	}

	// gateway tokens have no account behind them
	if principal.AccountID == nil {
		c.JSON(http.StatusOK, gin.H{
			"gateway_token_id": principal.GatewayTokenID,
			"name":             principal.Username,
			"permissions":      principal.Permissions,
		})
		return
	}

	account, err := s.svc.Accounts.GetAccount(c.Request.Context(), *principal.AccountID)
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        account,
		"permissions": principal.Permissions,
	})
}

// Account management (Admin only)
func (s *Server) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "USER", "Invalid request body", err.Error())
		return
	}

	account, err := s.svc.Accounts.CreateAccount(c.Request.Context(), auth.NewAccount{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		Enabled:   req.Enabled,
	})
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.svc.Accounts.ListAccounts(c.Request.Context())
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": accounts})
}

func (s *Server) getAccount(c *gin.Context) {
	id, ok := uuidParam(c, "USER", "id")
	if !ok {
		return
	}

	account, err := s.svc.Accounts.GetAccount(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) updateAccount(c *gin.Context) {
	id, ok := uuidParam(c, "USER", "id")
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "USER", "Invalid request body", err.Error())
		return
	}

	account, err := s.svc.Accounts.UpdateAccount(c.Request.Context(), id, auth.AccountChanges{
		Password:  req.Password,
		Role:      req.Role,
		Enabled:   req.Enabled,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// POST /api/v1/accounts/:id/activate
func (s *Server) activateAccount(c *gin.Context) {
	id, ok := uuidParam(c, "USER", "id")
	if !ok {
		return
	}

	account, err := s.svc.Accounts.Activate(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) deleteAccount(c *gin.Context) {
	id, ok := uuidParam(c, "USER", "id")
	if !ok {
		return
	}

	if p := auth.GetPrincipal(c); p != nil && p.AccountID != nil && *p.AccountID == id {
		c.JSON(http.StatusConflict, types.NewErrorResponse("USER_409", "Cannot delete your own account", nil))
		return
	}

	if err := s.svc.Accounts.DeleteAccount(c.Request.Context(), id); err != nil {
		s.fail(c, "USER", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

// Gateway Token Management (Admin only)
func (s *Server) createGatewayToken(c *gin.Context) {
	var req CreateGatewayTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "TOKEN", "Invalid request body", err.Error())
		return
	}

	var createdBy *uuid.UUID
	if p := auth.GetPrincipal(c); p != nil {
		createdBy = p.AccountID
	}

	token, gt, err := s.svc.Accounts.CreateGatewayToken(c.Request.Context(), req.Name, req.Permissions, req.MachineID, createdBy)
	if err != nil {
		s.logger.Error("Failed to create gateway token", zap.Error(err))
		s.fail(c, "TOKEN", err)
		return
	}

	c.JSON(http.StatusCreated, CreateGatewayTokenResponse{
		Token:       token, // Only time this is returned!
		ID:          gt.ID,
		Name:        gt.Name,
		Permissions: gt.Permissions,
		MachineID:   gt.MachineID,
	})
}

func (s *Server) listGatewayTokens(c *gin.Context) {
	tokens, err := s.svc.Accounts.ListGatewayTokens(c.Request.Context())
	if err != nil {
		s.fail(c, "TOKEN", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) deleteGatewayToken(c *gin.Context) {
	id, ok := uuidParam(c, "TOKEN", "id")
	if !ok {
		return
	}

	if err := s.svc.Accounts.DeleteGatewayToken(c.Request.Context(), id); err != nil {
		s.fail(c, "TOKEN", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token deleted"})
}
