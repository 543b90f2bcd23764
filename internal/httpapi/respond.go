// Package httpapi exposes the ledgers over HTTP. Handlers are thin: they
// parse and authenticate the request, derive the caller address from the
// session token, invoke the ledger operation, and map the error kind to a
// status code. All authorization decisions live in the ledgers themselves.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/arcadian-labs/agentledger/pkg/regerr"
)

// fail writes the error as JSON with the status implied by its kind.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, regerr.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, regerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, regerr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, regerr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, regerr.ErrSignature):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseAddress validates and decodes a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// callerAddress returns the authenticated caller set by RequireAuth.
func callerAddress(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
