package coreapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
)

// fail writes err as {"error": "..."} at the status apperrors.HTTPStatus
// derives from it, the structured-failure shape every handler below uses;
// the message is err.Error() verbatim, whatever the status.
func fail(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
}

func ok(c *gin.Context, body interface{}) {
	if body == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, body)
}

func created(c *gin.Context, body interface{}) {
	c.JSON(http.StatusCreated, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
