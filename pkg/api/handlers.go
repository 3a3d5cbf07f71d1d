// API handlers for safe-mode and chain inspection
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/richmills3/bitcoin-sv/pkg/chain"
)

// ==================== SAFE MODE ENDPOINTS ====================

// handleSafeModeStatus returns the cached safe-mode status document
func (s *Server) handleSafeModeStatus(c *gin.Context) {
	pretty := c.Query("pretty") != ""

	s.chainState.Lock.Lock()
	status, err := s.monitor.StatusString(pretty)
	s.chainState.Lock.Unlock()

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialise status"})
		return
	}

	c.Data(http.StatusOK, "application/json", []byte(status))
}

// handleSafeModeClear resets the monitor and runs a fresh check
func (s *Server) handleSafeModeClear(c *gin.Context) {
	s.monitor.Clear()

	s.chainState.Lock.Lock()
	s.monitor.Check(nil)
	s.chainState.Lock.Unlock()

	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// handleSafeModeIgnore flips the operator ignore flag on a block. The chain
// state re-runs the safe-mode check through its tip hooks.
func (s *Server) handleSafeModeIgnore(ignored bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, err := chain.ParseHash(c.Param("hash"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block hash"})
			return
		}

		s.chainState.Lock.Lock()
		err = s.chainState.SetIgnoredForSafeMode(hash, ignored)
		s.chainState.Lock.Unlock()

		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"hash":    hash.String(),
			"ignored": ignored,
		})
	}
}

// ==================== CHAIN ENDPOINTS ====================

func (s *Server) handleChainTip(c *gin.Context) {
	s.chainState.Lock.Lock()
	tip := s.chainState.Tip()
	resp := blockResponse(tip)
	s.chainState.Lock.Unlock()

	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain is empty"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChainTips(c *gin.Context) {
	s.chainState.Lock.Lock()
	tips := s.chainState.ForkTips()
	out := make([]gin.H, 0, len(tips))
	for _, t := range tips {
		out = append(out, blockResponse(t))
	}
	s.chainState.Lock.Unlock()

	c.JSON(http.StatusOK, gin.H{"tips": out})
}

func (s *Server) handleGetBlock(c *gin.Context) {
	hash, err := chain.ParseHash(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block hash"})
		return
	}

	s.chainState.Lock.Lock()
	idx := s.chainState.Lookup(hash)
	resp := blockResponse(idx)
	onActive := s.chainState.Contains(idx)
	s.chainState.Lock.Unlock()

	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	resp["active"] = onActive
	c.JSON(http.StatusOK, resp)
}

func blockResponse(b *chain.BlockIndex) gin.H {
	if b == nil {
		return nil
	}
	resp := gin.H{
		"hash":      b.Hash.String(),
		"height":    b.Height,
		"blocktime": b.BlockTime,
		"chaintx":   b.ChainTx,
		"invalid":   b.Status.IsInvalid(),
		"ignored":   b.IgnoredForSafeMode,
	}
	if b.Parent != nil {
		resp["parent"] = b.Parent.Hash.String()
	}
	return resp
}
