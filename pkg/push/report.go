package push

// DeliveryStatus summarises a DeliveryReport.
type DeliveryStatus string

const (
	StatusDelivered          DeliveryStatus = "delivered"
	StatusPartialFailure     DeliveryStatus = "partial_failure"
	StatusFailed             DeliveryStatus = "failed"
	StatusNoTokensFound      DeliveryStatus = "no_tokens_found"
	StatusServiceUnavailable DeliveryStatus = "service_unavailable"
)

// DeliveryReport aggregates every gateway invoked for one user.
type DeliveryReport struct {
	UserID  string          `json:"userId"`
	Status  DeliveryStatus  `json:"status"`
	Success bool            `json:"success"`
	Results []GatewayResult `json:"results"`
	// Skipped lists gateways holding tokens but lacking a configured adapter.
	Skipped []Gateway `json:"skipped,omitempty"`

	TotalGateways    int       `json:"totalGateways"`
	Succeeded        int       `json:"succeeded"`
	Failed           int       `json:"failed"`
	PlatformsInvoked []Gateway `json:"platformsInvoked"`
}

// Err maps the report status onto the error taxonomy; nil on full delivery.
func (r *DeliveryReport) Err() error {
	switch r.Status {
	case StatusDelivered:
		return nil
	case StatusPartialFailure:
		return ErrPartialFailure
	case StatusNoTokensFound:
		return ErrNoTokensFound
	case StatusServiceUnavailable:
		return ErrServiceUnavailable
	default:
		return ErrAllGatewaysFailed
	}
}

// Aggregate fills the summary fields and status from r.Results.
func (r *DeliveryReport) Aggregate() {
	r.TotalGateways = len(r.Results)
	r.Succeeded = 0
	r.PlatformsInvoked = make([]Gateway, 0, len(r.Results))
	for _, res := range r.Results {
		r.PlatformsInvoked = append(r.PlatformsInvoked, res.Gateway)
		if res.Success {
			r.Succeeded++
		}
	}
	r.Failed = r.TotalGateways - r.Succeeded
	r.Success = r.Succeeded > 0

	switch {
	case r.Failed == 0 && r.Succeeded > 0:
		r.Status = StatusDelivered
	case r.Success:
		r.Status = StatusPartialFailure
	default:
		r.Status = StatusFailed
	}
}

// BulkItem is one (user, notification) pair of a bulk send.
type BulkItem struct {
	UserID       string                 `json:"userId"`
	Notification NotificationDescriptor `json:"notification"`
}

// BulkUserReport is the outcome for one user of a bulk send. Error carries an
// infrastructure failure that prevented a report from being built.
type BulkUserReport struct {
	UserID string          `json:"userId"`
	Report *DeliveryReport `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BulkReport aggregates per-user outcomes of a bulk send.
type BulkReport struct {
	Reports   []BulkUserReport `json:"reports"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// ServiceStats describes which gateways are usable.
type ServiceStats struct {
	ConfiguredGateways int              `json:"configuredGateways"`
	Platforms          map[Gateway]bool `json:"platforms"`
}
