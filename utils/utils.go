package utils

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/princinho/mocreatives/auth"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var statusByKind = map[string]int{
	"invalid_input":       http.StatusBadRequest,
	"invalid_credentials": http.StatusBadRequest,
	"duplicate":           http.StatusBadRequest,
	"invalid_token":       http.StatusBadRequest,
	"unauthenticated":     http.StatusUnauthorized,
	"reset_required":      http.StatusForbidden,
	"forbidden":           http.StatusForbidden,
	"not_found":           http.StatusNotFound,
	"store_unavailable":   http.StatusInternalServerError,
	"delivery_failed":     http.StatusInternalServerError,
	"internal":            http.StatusInternalServerError,
}

// ErrorStatus is the HTTP status for an auth error.
func ErrorStatus(err error) int {
	if s, ok := statusByKind[auth.Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// RespondError aborts with {"error", "code"} and, for validation failures,
// "field". Server-side failures never expose the underlying cause.
func RespondError(c *gin.Context, err error) {
	kind := auth.Kind(err)
	status := ErrorStatus(err)
	body := gin.H{"code": kind}

	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		body["error"] = verr.Message
		body["field"] = verr.Field
	case kind == "delivery_failed":
		body["error"] = "There was an error sending the email. Try again later!"
	case kind == "store_unavailable":
		body["error"] = "service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		body["error"] = "internal error"
	case errors.Is(err, auth.ErrSuperAdminExists):
		body["error"] = auth.ErrSuperAdminExists.Error()
	default:
		body["error"] = rootMessage(err)
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

// rootMessage returns the sentinel's own text for wrapped sentinels.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		auth.ErrInvalidCredentials, auth.ErrResetRequired, auth.ErrDuplicateIdentity,
		auth.ErrInvalidOrExpiredToken, auth.ErrUnauthenticated, auth.ErrForbidden, auth.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// RespondBindError reports a request body that failed to bind or validate.
func RespondBindError(c *gin.Context, err error) {
	body := gin.H{"code": "invalid_input", "error": "invalid request body"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		body["field"] = lowerFirst(fe.Field())
		body["error"] = lowerFirst(fe.Field()) + " failed " + fe.Tag() + " validation"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// ObjectIDParam parses a hex ObjectID path parameter, answering 404 when it
// is malformed.
func ObjectIDParam(c *gin.Context, name string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(c.Param(name))
	if err != nil {
		RespondError(c, auth.ErrNotFound)
		return bson.ObjectID{}, false
	}
	return id, true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
