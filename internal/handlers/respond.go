package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/apperr"
	"github.com/MedLarabi/compucar-sub005/internal/files"
)

// Identity headers set by the authenticating proxy in front of the service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

func actorFrom(c *gin.Context) files.Actor {
	role := strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserRole)))
	if role == "" {
		role = files.RoleCustomer
	}
	return files.Actor{ID: strings.TrimSpace(c.GetHeader(HeaderUserID)), Role: role}
}

// writeError maps a classified error to its status. Unclassified errors are
// logged and reported as internal.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	if status >= 500 {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": kind, "msg": apperr.Message(err)})
}
