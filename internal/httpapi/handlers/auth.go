package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/token"
	"golang.org/x/crypto/bcrypt"
)

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshReq struct {
	Refresh string `json:"refresh" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "username and password are required")
		return
	}

	h.mu.Lock()
	u, ok := h.users[req.Username]
	h.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	access, err := token.SignAccess(u.ID, u.Username, h.cfg.JWTSecret, h.cfg.AccessTokenTTL)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to sign token")
		return
	}
	refresh := h.issueRefresh(u.ID)

	c.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": refresh,
		"user":    userJSON(u),
	})
}

// Refresh rotates the refresh token; the presented one stops working.
func (h *Handler) Refresh(c *gin.Context) {
	h.refreshCalls.Add(1)

	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "refresh is required")
		return
	}

	h.mu.Lock()
	uid, ok := h.refresh[req.Refresh]
	if ok {
		delete(h.refresh, req.Refresh)
	}
	u := h.userByID(uid)
	h.mu.Unlock()
	if !ok || u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	access, err := token.SignAccess(u.ID, u.Username, h.cfg.JWTSecret, h.cfg.AccessTokenTTL)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to sign token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": h.issueRefresh(u.ID),
	})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		detail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.mu.Lock()
	u := h.userByID(uid)
	h.mu.Unlock()
	if u == nil {
		detail(c, http.StatusUnauthorized, "User not found")
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

func (h *Handler) issueRefresh(userID uint64) string {
	t := uuid.NewString()
	h.mu.Lock()
	h.refresh[t] = userID
	h.mu.Unlock()
	return t
}
