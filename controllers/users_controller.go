package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/dto"
	"github.com/princinho/mocreatives/metrics"
	"github.com/princinho/mocreatives/middleware"
	"github.com/princinho/mocreatives/models"
	"github.com/princinho/mocreatives/storage"
	"github.com/princinho/mocreatives/utils"
)

// GET /admin/me
func Me() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			utils.RespondError(c, auth.ErrUnauthenticated)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// PATCH /admin/:id accepts a JSON body, or multipart with the JSON in the
// "data" field and an optional "photo" file.
func UpdateProfile(svc *auth.Service, rec AuthRecorder, photos *storage.FileValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID, ok := utils.ObjectIDParam(c, "id")
		if !ok {
			return
		}
		actor, _ := middleware.CurrentUser(c)

		var body dto.UpdateProfileDTO
		var photo *auth.PhotoUpload
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if dataStr := c.PostForm("data"); dataStr != "" {
				if err := json.Unmarshal([]byte(dataStr), &body); err != nil {
					utils.RespondBindError(c, err)
					return
				}
			}
			fh, err := c.FormFile("photo")
			switch {
			case errors.Is(err, http.ErrMissingFile):
			case err != nil:
				utils.RespondBindError(c, err)
				return
			default:
				contentType := fh.Header.Get("Content-Type")
				if photos != nil {
					detected, err := photos.ValidateFile(fh)
					if err != nil {
						utils.RespondError(c, &auth.ValidationError{Field: "photo", Message: err.Error()})
						return
					}
					contentType = detected
				}
				f, err := fh.Open()
				if err != nil {
					utils.RespondBindError(c, err)
					return
				}
				defer f.Close()
				photo = &auth.PhotoUpload{Filename: fh.Filename, ContentType: contentType, Body: f}
			}
		} else if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBindError(c, err)
			return
		}

		in := auth.ProfileInput{Name: body.Name, LinkedinLink: body.LinkedinLink, Email: body.Email}
		if body.Role != nil {
			role := models.Role(strings.ToLower(strings.TrimSpace(*body.Role)))
			in.Role = &role
		}

		updated, err := svc.UpdateProfile(c.Request.Context(), actor, targetID, in, photo)
		record(rec, metrics.OpUpdateProfile, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": updated})
	}
}

// DELETE /admin/:id
func DeleteIdentity(svc *auth.Service, rec AuthRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID, ok := utils.ObjectIDParam(c, "id")
		if !ok {
			return
		}
		actor, _ := middleware.CurrentUser(c)

		err := svc.DeleteIdentity(c.Request.Context(), actor, targetID)
		record(rec, metrics.OpDelete, err)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
