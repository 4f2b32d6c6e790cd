package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/compliancehub/internal/authcontext"
	invoicedomain "github.com/smallbiznis/compliancehub/internal/invoice/domain"
	"go.uber.org/zap"
)

// idList accepts ids as JSON strings or numbers.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		var value string
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &value); err != nil {
				return err
			}
		} else {
			var number json.Number
			if err := json.Unmarshal(item, &number); err != nil {
				return err
			}
			value = number.String()
		}
		out = append(out, value)
	}
	*l = out
	return nil
}

type createInvoiceRequest struct {
	BookingIDs idList `json:"bookingIds"`
	UserID     string `json:"userId"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidArgument)
		return
	}

	ctx := c.Request.Context()
	if claimed := strings.TrimSpace(req.UserID); claimed != "" {
		if userID, ok := authcontext.UserIDFromContext(ctx); ok && userID.String() != claimed {
			s.log.Warn("invoice request user differs from token",
				zap.String("token_user_id", userID.String()),
				zap.String("body_user_id", claimed),
			)
		}
	}

	invoice, err := s.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		BookingIDs: req.BookingIDs,
		UserID:     req.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "invoice": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	items, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{Limit: limit})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	item, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
