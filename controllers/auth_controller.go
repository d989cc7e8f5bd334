package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/dto"
	"github.com/princinho/mocreatives/metrics"
	"github.com/princinho/mocreatives/middleware"
	"github.com/princinho/mocreatives/models"
	"github.com/princinho/mocreatives/utils"
)

// AuthRecorder counts auth outcomes. A nil recorder records nothing.
type AuthRecorder interface {
	RecordAuth(operation string, err error)
}

func record(rec AuthRecorder, op string, err error) {
	if rec != nil {
		rec.RecordAuth(op, err)
	}
}

// POST /auth/register
func Register(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.RegisterDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}
		requestor, _ := middleware.CurrentUser(c)

		res, err := svc.Register(c.Request.Context(), requestor, auth.RegisterInput{
			Name:  body.Name,
			Email: body.Email,
			Role:  models.Role(strings.ToLower(strings.TrimSpace(body.Role))),
		})
		record(rec, metrics.OpRegister, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user":                 res.User,
			"credentialsDelivered": res.CredentialsDelivered,
		})
	}
}

// POST /auth/login
func Login(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.LoginDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}

		sess, err := svc.Login(c.Request.Context(), body.Email, body.Password)
		record(rec, metrics.OpLogin, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// POST /auth/forgot-password answers the same way whether or not the email
// belongs to an identity.
func ForgotPassword(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ForgotPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}

		err := svc.RequestPasswordReset(c.Request.Context(), body.Email)
		record(rec, metrics.OpForgotPass, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "If an account exists for that email, password reset instructions have been sent",
		})
	}
}

// PATCH /auth/reset-password/:token
func ResetPassword(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ResetPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}

		sess, err := svc.ConsumeReset(c.Request.Context(), c.Param("token"), body.Password)
		record(rec, metrics.OpResetPass, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// PATCH /auth/update-password
func UpdatePassword(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ChangeMyPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}
		user, ok := middleware.CurrentUser(c)
		if !ok {
			utils.RespondError(c, auth.ErrUnauthenticated)
			return
		}

		sess, err := svc.ChangePassword(c.Request.Context(), user.ID, body.CurrentPassword, body.NewPassword)
		record(rec, metrics.OpChangePass, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}
