package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
)

type markReadRequest struct {
	IDs idList `json:"ids"`
}

// ListNotifications pages newest first. `before` is the created_at of the last row seen.
func (s *Server) ListNotifications(c *gin.Context) {
	req := notificationdomain.ListRequest{}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, notificationdomain.ErrInvalidLimit)
			return
		}
		req.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.Before = &before
	}

	items, err := s.notificationSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []notificationdomain.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UnreadNotificationCount(c *gin.Context) {
	count, err := s.notificationSvc.UnreadCount(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	affected, err := s.notificationSvc.MarkAllRead(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": affected})
}

func (s *Server) MarkNotificationsRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	affected, err := s.notificationSvc.MarkRead(c.Request.Context(), req.IDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": affected})
}
