package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/model"
	"github.com/prizedraw/ticket-redemption/internal/repository"
)

// TicketImporter is the store capability the import endpoint needs.
type TicketImporter interface {
	BulkUpsert(ctx context.Context, rows []repository.ImportRow) (int64, error)
}

// ImportHandler ingests ticket codes produced by the admin tooling.  The
// tooling parses whatever source format it likes (CSV, spreadsheets) and
// submits plain JSON rows here; parsing is its concern, not ours.
type ImportHandler struct {
	Store TicketImporter
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(store TicketImporter) *ImportHandler {
	if store == nil {
		panic("nil store passed to NewImportHandler")
	}
	return &ImportHandler{Store: store}
}

// Import handles POST /internal/tickets/import.  Rows are upserted by code:
// new codes are created in PENDING_ACTIVATION unless a status is given,
// existing codes only have kind and status refreshed — reservation state
// and redemption history are never touched by an import.
func (h *ImportHandler) Import(c echo.Context) error {
	var body struct {
		Tickets []struct {
			Code   string `json:"code"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"tickets"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Tickets) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tickets is required"})
	}
	rows := make([]repository.ImportRow, 0, len(body.Tickets))
	for _, t := range body.Tickets {
		code := strings.TrimSpace(t.Code)
		if code == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket code must not be empty"})
		}
		kind := strings.ToUpper(strings.TrimSpace(t.Kind))
		if kind != "" && kind != model.KindStandard && kind != model.KindPremium {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown ticket kind: " + t.Kind})
		}
		status := strings.ToUpper(strings.TrimSpace(t.Status))
		switch status {
		case "", model.StatusUnused, model.StatusPendingActivation, model.StatusDisabled:
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown ticket status: " + t.Status})
		}
		rows = append(rows, repository.ImportRow{Code: code, Kind: kind, Status: status})
	}
	affected, err := h.Store.BulkUpsert(c.Request().Context(), rows)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "import failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"rows":     len(rows),
		"affected": affected,
	})
}
