package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/middleware"
	"github.com/princinho/mocreatives/storage"
)

type Deps struct {
	Auth *auth.Service
	// Authenticator defaults to Auth.
	Authenticator middleware.Authenticator
	Recorder      AuthRecorder
	Photos        *storage.FileValidator
	// LoginLimit and ResetLimit guard the unauthenticated credential routes
	// when set.
	LoginLimit gin.HandlerFunc
	ResetLimit gin.HandlerFunc
	Metrics    http.Handler
}

func Mount(r gin.IRouter, d Deps) {
	authn := d.Authenticator
	if authn == nil {
		authn = d.Auth
	}
	requireAuth := middleware.AuthMiddleware(authn)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	a := r.Group("/auth")
	{
		a.POST("/register", requireAuth, middleware.RequireRoles(auth.SuperAdminOnly), Register(d.Auth, d.Recorder))
		a.POST("/login", optional(d.LoginLimit), Login(d.Auth, d.Recorder))
		a.POST("/forgot-password", optional(d.ResetLimit), ForgotPassword(d.Auth, d.Recorder))
		a.PATCH("/reset-password/:token", optional(d.ResetLimit), ResetPassword(d.Auth, d.Recorder))
		a.PATCH("/update-password", requireAuth, UpdatePassword(d.Auth, d.Recorder))
	}

	admin := r.Group("/admin")
	admin.Use(requireAuth, middleware.RequireRoles(auth.AnyAdmin))
	{
		admin.GET("/me", Me())
		admin.PATCH("/:id", UpdateProfile(d.Auth, d.Recorder, d.Photos))
		admin.DELETE("/:id", middleware.RequireRoles(auth.SuperAdminOnly), DeleteIdentity(d.Auth, d.Recorder))
	}
}

func optional(h gin.HandlerFunc) gin.HandlerFunc {
	if h == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h
}
