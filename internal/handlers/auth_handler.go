package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

func (h *Handler) Login(c *gin.Context) {
	var input LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).Where("username = ?", input.Username).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error(c.Request.Context()).Err(err).Msg("Failed to load user")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, input.Password) {
		logger.Warn(c.Request.Context()).Str("username", input.Username).Msg("Failed login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.issuer.GenerateToken(user.ID, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"role":     user.Role,
		"username": user.Username,
	})
}

// Register creates a staff account. It is only routed when registration is
// enabled; new accounts are cashiers unless an admin role is requested.
func (h *Handler) Register(c *gin.Context) {
	if !h.allowRegistration {
		c.JSON(http.StatusForbidden, gin.H{"error": "Registration is disabled"})
		return
	}

	var input RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = auth.RoleCashier
	}
	if !auth.ValidRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be admin or cashier"})
		return
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		Username:     strings.TrimSpace(input.Username),
		PasswordHash: hash,
		Role:         role,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User likely already exists"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully!", "id": user.ID, "role": user.Role})
}
