package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainsharp/scheduler/internal/auth"
	"github.com/chainsharp/scheduler/internal/domain/operator"
	"github.com/chainsharp/scheduler/internal/security"
)

type OperatorReader interface {
	GetByEmail(ctx context.Context, email string) (operator.Operator, error)
}

type AuthHandler struct {
	operators OperatorReader
	jwt       *auth.Manager
}

func NewAuthHandler(operators OperatorReader, jwtManager *auth.Manager) *AuthHandler {
	return &AuthHandler{operators: operators, jwt: jwtManager}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login issues an access token for the bootstrap operator account.
// There is no refresh-token rotation: a single always-trusted operator
// identity doesn't need the session-revocation machinery a
// multi-tenant user base would.
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	op, err := h.operators.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if err := security.CheckPassword(op.PasswordHash, req.Password); err != nil {
		RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(op.ID, op.Email, operator.Role)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"accessToken": accessToken})
}
