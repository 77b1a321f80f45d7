package backtesthttp

import (
	"errors"
	"net/http"
	"strconv"

	"futuresim/internal/backtest"

	"github.com/gin-gonic/gin"
)

var errSeriesRequired = errors.New("symbol and timeframe are required")

func (s *Server) submitFetch(c *gin.Context) {
	var req backtest.FetchParams
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	job, err := s.cfg.Svc.SubmitFetch(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) fetchStatus(c *gin.Context) {
	job, ok := s.cfg.Svc.JobSnapshot(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, errors.New("job not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.cfg.Svc.JobsSnapshot()})
}

func (s *Server) manifest(c *gin.Context) {
	symbol, tf, ok := seriesQuery(c)
	if !ok {
		return
	}
	info, err := s.cfg.Svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

// candles serves cached bars; start_ts and end_ts are open times in ms.
func (s *Server) candles(c *gin.Context) {
	symbol, tf, ok := seriesQuery(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		fail(c, http.StatusBadRequest, errors.New("invalid limit"))
		return
	}
	data, err := s.cfg.Svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func seriesQuery(c *gin.Context) (string, string, bool) {
	symbol, tf := c.Query("symbol"), c.Query("timeframe")
	if symbol == "" || tf == "" {
		fail(c, http.StatusBadRequest, errSeriesRequired)
		return "", "", false
	}
	return symbol, tf, true
}
