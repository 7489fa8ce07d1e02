package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// ErrMalformedRequest marks a message that can never be processed.
var ErrMalformedRequest = errors.New("malformed notification request")

// NotificationRequest is the wire shape of an ingested notification.
type NotificationRequest struct {
	UserID       string                      `json:"userId"`
	Notification push.NotificationDescriptor `json:"notification"`
}

// DecodeRequest unmarshals and validates a raw message payload. Every
// failure wraps ErrMalformedRequest so the consumer can dead-letter it.
func DecodeRequest(msgID string, payload []byte) (*NotificationRequest, error) {
	var req NotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal notification request from message %s: %w", ErrMalformedRequest, msgID, err)
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: message %s has no userId", ErrMalformedRequest, msgID)
	}
	if req.Notification.Title == "" && req.Notification.Body == "" && len(req.Notification.Data) == 0 {
		return nil, fmt.Errorf("%w: message %s carries an empty notification", ErrMalformedRequest, msgID)
	}
	return &req, nil
}
