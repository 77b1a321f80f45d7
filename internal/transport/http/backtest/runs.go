package backtesthttp

import (
	"errors"
	"net/http"
	"strconv"

	"futuresim/internal/backtest"

	"github.com/gin-gonic/gin"
)

func (s *Server) startRun(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	run, err := s.cfg.Simulator.StartRun(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.cfg.Results.ListRuns(c.Request.Context(), limitParam(c, 50))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) runDetail(c *gin.Context) {
	run, err := s.cfg.Results.GetRun(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, backtest.ErrRunNotFound):
		fail(c, http.StatusNotFound, err)
	case err != nil:
		fail(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, gin.H{"run": run})
	}
}

func (s *Server) runFills(c *gin.Context) {
	fills, err := s.cfg.Results.ListFills(c.Request.Context(), c.Param("id"), limitParam(c, 500))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) runSnapshots(c *gin.Context) {
	snaps, err := s.cfg.Results.ListSnapshots(c.Request.Context(), c.Param("id"), limitParam(c, 1000))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// limitParam reads ?limit=, falling back to def when absent or malformed.
func limitParam(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
