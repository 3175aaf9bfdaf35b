// Package handlers is the HTTP surface around the realtime core: account
// registration and login, public key management, paginated history and
// conversation lists.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftegu/pkg/i18n"
	"github.com/4xmen/goftegu/pkg/log"
)

func localized(c *gin.Context, msg string) string {
	return i18n.Localize(c.GetHeader("Accept-Language"), msg)
}

// respondError writes {"error": msg}, translated for Persian clients.
func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": localized(c, msg)})
}

func abortError(c *gin.Context, status int, msg string) {
	respondError(c, status, msg)
	c.Abort()
}

// currentUserID returns the id set by AuthMiddleware.
func currentUserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(log.FieldUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok && id > 0
}

func requireUser(c *gin.Context) (int, bool) {
	id, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// serverError answers 500 with msg. err is attached to the gin context and
// logged by the request middleware.
func serverError(c *gin.Context, err error, msg string) {
	_ = c.Error(fmt.Errorf("%s: %w", msg, err))
	respondError(c, http.StatusInternalServerError, msg)
}
