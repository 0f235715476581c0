package handler

import (
	"net/http"

	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// ListUsers godoc
// @Summary List staff accounts
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserListEnvelope
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UserListEnvelope{Status: "success", Data: users})
}

// GetUser godoc
// @Summary Get a staff account
// @Description Allowed for the account itself or a main admin.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} model.UserEnvelope
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := GetTargetUserID(c)
	if !ok {
		abortError(c, http.StatusBadRequest, "user id is required", CodeMissingID)
		return
	}

	user, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UserEnvelope{Status: "success", Data: user})
}

// DeactivateUser godoc
// @Summary Deactivate a staff account
// @Description Main admin only. Accounts are flagged inactive, never removed.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} model.StatusResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /api/v1/users/{id} [delete]
func (h *UserHandler) DeactivateUser(c *gin.Context) {
	id, ok := GetTargetUserID(c)
	if !ok {
		abortError(c, http.StatusBadRequest, "user id is required", CodeMissingID)
		return
	}

	if err := h.svc.Deactivate(c.Request.Context(), GetAuthUser(c), id); err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.StatusResponse{Status: "deactivated"})
}

// UnlockUser godoc
// @Summary Clear an account lock
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} model.UserEnvelope
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/users/{id}/unlock [post]
func (h *UserHandler) UnlockUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid user id", CodeBadRequest)
		return
	}

	user, err := h.svc.Unlock(c.Request.Context(), id)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UserEnvelope{Status: "success", Data: user})
}
