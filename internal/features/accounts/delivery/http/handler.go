package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/common/middleware"
	"bundlealert-miniapp/internal/features/accounts/service"
	"bundlealert-miniapp/internal/platform/botapi"
)

type Handler struct {
	service service.Service
}

func NewHandler(service service.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the endpoints the mini-app talks to.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST(constants.PathAuthTelegram, h.authTelegram)
	router.GET(constants.PathTokensSupported, h.supportedTokens)

	authed := router.Group("", middleware.RequireAuth(h.service))
	{
		authed.POST(constants.PathWalletInitiate, h.initiate)
		authed.POST(constants.PathWalletVerify, h.verify)
		authed.POST(constants.PathWalletDisconnect, h.disconnect)
		authed.POST(constants.PathWalletBalance, h.balance)
		authed.GET(constants.PathUserStatus, h.status)
		authed.POST(constants.PathFeedback, h.feedback)
	}
}

func (h *Handler) authTelegram(c *gin.Context) {
	var req botapi.AuthRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.service.Authenticate(c.Request.Context(), req.TelegramData)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) supportedTokens(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Tokens())
}

func (h *Handler) initiate(c *gin.Context) {
	userID := middleware.UserID(c)

	var req botapi.InitiateRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if req.UserID != "" && req.UserID != strconv.FormatInt(userID, 10) {
		_ = c.Error(errors.New(errors.ErrCodeAuthExpired, constants.MsgAccessDenied).WithStatus(http.StatusForbidden))
		return
	}

	resp, err := h.service.Initiate(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) verify(c *gin.Context) {
	var req botapi.VerifyRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.service.Verify(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) disconnect(c *gin.Context) {
	var req botapi.DisconnectRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.service.Disconnect(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) balance(c *gin.Context) {
	var req botapi.BalanceRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.service.Balance(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) status(c *gin.Context) {
	resp, err := h.service.Status(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) feedback(c *gin.Context) {
	var req botapi.Feedback
	if !bind(c, &req) {
		return
	}
	if err := h.service.Feedback(c.Request.Context(), middleware.UserID(c), req); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		_ = c.Error(errors.Wrap(err, errors.ErrCodeValidation, "Invalid request body").WithStatus(http.StatusBadRequest))
		return false
	}
	return true
}
