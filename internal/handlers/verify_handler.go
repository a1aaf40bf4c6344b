package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ajar-app/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type VerifyHandler struct {
	verificationService *services.VerificationService
	auditService        *services.AuditService
}

func NewVerifyHandler(verificationService *services.VerificationService, auditService *services.AuditService) *VerifyHandler {
	return &VerifyHandler{
		verificationService: verificationService,
		auditService:        auditService,
	}
}

// Send issues a verification code for the caller's phone number.
// The code itself is never part of the response.
func (h *VerifyHandler) Send(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number is required"})
		return
	}

	result, err := h.verificationService.RequestCode(c.Request.Context(), userID.(uuid.UUID), req.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrMissingIdentity):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification code", "details": err.Error()})
		}
		return
	}

	resp := gin.H{"success": true}
	if result.IsTestPhone {
		resp["isTestPhone"] = true
		resp["message"] = "Test verification code sent successfully"
	} else {
		resp["message"] = "Verification code sent successfully"
		if result.MessageID != "" {
			resp["messageId"] = result.MessageID
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Check validates a submitted code and reports the verified outcome.
// Mismatch and expiry share one generic message.
func (h *VerifyHandler) Check(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
		Code        string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number and code are required"})
		return
	}

	err := h.verificationService.SubmitCode(c.Request.Context(), userID.(uuid.UUID), req.PhoneNumber, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPhone), errors.Is(err, services.ErrInvalidCode):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrMissingIdentity):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrCodeMismatch), errors.Is(err, services.ErrNotFoundOrExpired):
			c.JSON(http.StatusBadRequest, gin.H{
				"success":  false,
				"verified": false,
				"error":    "incorrect or expired code",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify code", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"verified": true,
	})
}

// History returns the caller's own verification events, newest first.
func (h *VerifyHandler) History(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	uid := userID.(uuid.UUID)
	events, total, err := h.auditService.GetRecentEvents(page, limit, &uid, c.Query("action"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch verification history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}
