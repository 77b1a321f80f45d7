package backtesthttp

import (
	"errors"
	"net/http"
	"strconv"

	"futuresim/internal/margin"

	"github.com/gin-gonic/gin"
)

// marginTable returns the tiers of a pair. With ?notional= it also resolves
// the bracket that notional falls in.
func (s *Server) marginTable(c *gin.Context) {
	tbl, err := s.cfg.Margins.Table(c.Param("pair"))
	switch {
	case errors.Is(err, margin.ErrUnknownPair):
		fail(c, http.StatusNotFound, err)
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, err)
		return
	}
	out := gin.H{"table": tbl}
	if raw := c.Query("notional"); raw != "" {
		notional, err := strconv.ParseFloat(raw, 64)
		if err != nil || notional < 0 {
			fail(c, http.StatusBadRequest, errors.New("invalid notional"))
			return
		}
		out["tier"] = tbl.Tier(notional)
		out["max_leverage"] = tbl.MaxLeverage(notional)
		out["maintenance_margin"] = tbl.MaintenanceMargin(notional)
	}
	c.JSON(http.StatusOK, out)
}
