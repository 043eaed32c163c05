package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/streamroom/internal/api/http/converter"
	"github.com/immxrtalbeast/streamroom/internal/auth"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/internal/service"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

type Authenticator interface {
	TokenVerifier
	SignUp(ctx context.Context, email, password, displayName string) (*auth.Identity, error)
	SignIn(ctx context.Context, email, password string) (*auth.Identity, error)
	SignInFederated(ctx context.Context, assertion string) (*auth.Identity, error)
	UpdateDisplayName(ctx context.Context, uid, displayName string) (*auth.Identity, error)
}

type UserController struct {
	auth     Authenticator
	identity service.IdentityInteractor
	log      *slog.Logger
}

func NewUserController(authenticator Authenticator, identity service.IdentityInteractor, log *slog.Logger) *UserController {
	if log == nil {
		log = slog.Default()
	}
	return &UserController{auth: authenticator, identity: identity, log: log}
}

func (c *UserController) SignUp(ctx *gin.Context) {
	type request struct {
		Email       string `json:"email" binding:"required"`
		Password    string `json:"password" binding:"required"`
		DisplayName string `json:"display_name"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	identity, err := c.auth.SignUp(ctx.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		ctx.JSON(authStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, converter.IdentityToApi(identity))
}

func (c *UserController) SignIn(ctx *gin.Context) {
	type request struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	identity, err := c.auth.SignIn(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		ctx.JSON(authStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, converter.IdentityToApi(identity))
}

func (c *UserController) SignInFederated(ctx *gin.Context) {
	type request struct {
		Assertion string `json:"assertion" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	identity, err := c.auth.SignInFederated(ctx.Request.Context(), req.Assertion)
	if err != nil {
		ctx.JSON(authStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, converter.IdentityToApi(identity))
}

// Me returns the caller with its resolved role. A missing profile resolves
// to viewer rather than failing.
func (c *UserController) Me(ctx *gin.Context) {
	user, err := c.identity.Resolve(ctx.Request.Context(), principalFrom(ctx))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user": user,
		"role": converter.RoleToApi(user.Role),
	})
}

func (c *UserController) UpdateMe(ctx *gin.Context) {
	type request struct {
		DisplayName string `json:"display_name" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	principal := principalFrom(ctx)
	if principal == nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthenticated.Error()})
		return
	}

	identity, err := c.auth.UpdateDisplayName(ctx.Request.Context(), principal.UID, req.DisplayName)
	if err != nil {
		ctx.JSON(authStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, converter.IdentityToApi(identity))
}

func (c *UserController) AssignRole(ctx *gin.Context) {
	const op = "http.user.assignRole"
	type request struct {
		Role string `json:"role" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	actor, err := c.identity.Resolve(ctx.Request.Context(), principalFrom(ctx))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	uid := ctx.Param("uid")
	role := domain.Role(req.Role)
	if err := c.identity.AssignRole(ctx.Request.Context(), actor, uid, role); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrForbidden):
			status = http.StatusForbidden
		case errors.Is(err, service.ErrInvalidRole):
			status = http.StatusBadRequest
		case errors.Is(err, repository.ErrProfileNotFound):
			status = http.StatusNotFound
		default:
			c.log.Error("assign role failed", slog.String("op", op), slog.String("uid", uid), sl.Err(err))
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"uid": uid, "role": converter.RoleToApi(role)})
}

func (c *UserController) DescribeRole(ctx *gin.Context) {
	role := domain.Role(ctx.Param("role"))
	if !role.Valid() {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown role"})
		return
	}
	ctx.JSON(http.StatusOK, converter.RoleToApi(role))
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrFederatedDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, repository.ErrCredentialNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
