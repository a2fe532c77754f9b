package api

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/echo-node/pkg/mesh"
	"github.com/ZentaChain/echo-node/pkg/node"
	"github.com/ZentaChain/echo-node/pkg/storage"
	"github.com/ZentaChain/echo-node/pkg/transfer"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// NodeInfoResponse identifies the node
type NodeInfoResponse struct {
	Username    string `json:"username"`
	Fingerprint string `json:"fingerprint"`
}

// PeersResponse lists known neighbours
type PeersResponse struct {
	Peers  []mesh.PeerInfo `json:"peers"`
	Active []string        `json:"active"`
}

// SendTextRequest is the body of POST /api/v1/messages
type SendTextRequest struct {
	To      string `json:"to" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// SendGlobalRequest is the body of POST /api/v1/global
type SendGlobalRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendResponse carries the id of a sent message
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID uint32 `json:"message_id"`
}

// PingRequest is the body of POST /api/v1/ping
type PingRequest struct {
	To string `json:"to" binding:"required"`
}

// SendFileRequest is the body of POST /api/v1/files
type SendFileRequest struct {
	To   string `json:"to" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// HistoryResponse lists journaled chat lines
type HistoryResponse struct {
	Messages []*storage.ChatRecord `json:"messages"`
}

// TransfersResponse lists in-flight and finished transfers
type TransfersResponse struct {
	Active  []transfer.Status         `json:"active"`
	History []*storage.TransferRecord `json:"history"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, NodeInfoResponse{
		Username:    s.mesh.Username(),
		Fingerprint: s.mesh.Fingerprint(),
	})
}

// handleNodeStats handles GET /api/v1/node/stats
func (s *Server) handleNodeStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mesh.Stats())
}

// handlePeers handles GET /api/v1/peers
func (s *Server) handlePeers(c *gin.Context) {
	c.JSON(http.StatusOK, PeersResponse{
		Peers:  s.mesh.Peers(),
		Active: s.mesh.ActivePeers(),
	})
}

// handleSendText handles POST /api/v1/messages
func (s *Server) handleSendText(c *gin.Context) {
	var req SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.mesh.SendText(req.To, req.Content)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, SendResponse{Success: true, MessageID: id})
}

// handleSendGlobal handles POST /api/v1/global
func (s *Server) handleSendGlobal(c *gin.Context) {
	var req SendGlobalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.mesh.SendGlobal(req.Content)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, SendResponse{Success: true, MessageID: id})
}

// handlePing handles POST /api/v1/ping
func (s *Server) handlePing(c *gin.Context) {
	var req PingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.mesh.Ping(req.To); err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "ping sent"})
}

// handleAnnounce handles POST /api/v1/announce
func (s *Server) handleAnnounce(c *gin.Context) {
	if err := s.mesh.Announce(); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "announced"})
}

// handleDiscover handles POST /api/v1/discover
func (s *Server) handleDiscover(c *gin.Context) {
	if err := s.mesh.Discover(); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "discovery sent"})
}

// handleHistory handles GET /api/v1/messages?limit=N
func (s *Server) handleHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	messages, err := s.mesh.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read history", Message: err.Error()})
		return
	}
	if messages == nil {
		messages = []*storage.ChatRecord{}
	}

	c.JSON(http.StatusOK, HistoryResponse{Messages: messages})
}

// handleTransfers handles GET /api/v1/transfers?limit=N
func (s *Server) handleTransfers(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	history, err := s.mesh.TransferHistory(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read transfers", Message: err.Error()})
		return
	}
	if history == nil {
		history = []*storage.TransferRecord{}
	}

	c.JSON(http.StatusOK, TransfersResponse{Active: s.mesh.Transfers(), History: history})
}

// handleSendFile handles POST /api/v1/files. The transfer runs in the
// background; progress and the outcome arrive on the event stream.
func (s *Server) handleSendFile(c *gin.Context) {
	var req SendFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "File not found", Message: req.Path})
		return
	}
	if !s.knowsPeer(req.To) {
		sendError(c, node.ErrUnknownPeer)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.mesh.SendFile(s.ctx, req.Path, req.To); err != nil {
			log.Printf("❌ File send to %s failed: %v", req.To, err)
		}
	}()

	c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Message: "transfer started"})
}

func (s *Server) knowsPeer(to string) bool {
	for _, p := range s.mesh.Peers() {
		if p.Address == to || p.DisplayName == to {
			return true
		}
	}
	return false
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: "limit must be a positive number"})
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
}

func sendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, node.ErrUnknownPeer):
		status = http.StatusNotFound
	case errors.Is(err, node.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, node.ErrSendFailed):
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Error: http.StatusText(status), Message: err.Error()})
}
