package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MaxBulkItems bounds one bulk request.
const MaxBulkItems = 1000

// Dispatcher is the delivery surface exposed over HTTP.
type Dispatcher interface {
	SendToUser(ctx context.Context, userID string, n push.NotificationDescriptor) (*push.DeliveryReport, error)
	SendBulk(ctx context.Context, items []push.BulkItem) *push.BulkReport
	Stats() push.ServiceStats
}

type NotifyAPI struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func NewNotifyAPI(d Dispatcher, logger *slog.Logger) *NotifyAPI {
	return &NotifyAPI{
		Dispatcher: d,
		Logger:     logger.With("component", "NotifyAPI"),
	}
}

func validDescriptor(n push.NotificationDescriptor) bool {
	return n.Title != "" || n.Body != "" || len(n.Data) > 0
}

// SendToUser handles POST /notify/{userId}. Gateway failures still answer
// 200 with the report; only a missing gateway configuration is a 503.
func (api *NotifyAPI) SendToUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing user id")
		return
	}
	var n push.NotificationDescriptor
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validDescriptor(n) {
		WriteJSONError(w, http.StatusBadRequest, "empty notification")
		return
	}

	report, err := api.Dispatcher.SendToUser(r.Context(), userID, n)
	if err != nil {
		api.Logger.Error("SendToUser failed", "user", userID, "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	status := http.StatusOK
	if report.Status == push.StatusServiceUnavailable {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

type BulkRequest struct {
	Notifications []push.BulkItem `json:"notifications"`
}

// SendBulk handles POST /notify.
func (api *NotifyAPI) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Notifications) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "no notifications")
		return
	}
	if len(req.Notifications) > MaxBulkItems {
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("at most %d notifications per request", MaxBulkItems))
		return
	}
	for i, item := range req.Notifications {
		if item.UserID == "" || !validDescriptor(item.Notification) {
			WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("notification %d is incomplete", i))
			return
		}
	}

	bulk := api.Dispatcher.SendBulk(r.Context(), req.Notifications)
	api.Logger.Info("SendBulk: completed", "total", bulk.Total, "succeeded", bulk.Succeeded, "failed", bulk.Failed)
	WriteJSON(w, http.StatusOK, bulk)
}

// Stats handles GET /stats.
func (api *NotifyAPI) Stats(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, api.Dispatcher.Stats())
}
