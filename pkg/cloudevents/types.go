package cloudevents

import "time"

// SpecVersion is the CloudEvents version emitted by this service.
const SpecVersion = "1.0"

// Event sources
const (
	SourcePurchasing = "/purchasing/purchasing-service"
)

// Extension attribute names carried next to the standard attributes.
const (
	ExtCorrelationID = "purchasingcorrelationid"
	ExtActorID       = "purchasingactorid"
)

// PurchasingCloudEvent is a CloudEvents v1.0 envelope around a purchasing
// domain event.
type PurchasingCloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	CorrelationID string `json:"purchasingcorrelationid,omitempty"`
	ActorID       string `json:"purchasingactorid,omitempty"`
}

// Headers returns the Kafka header set for the event in binary content mode.
func (e *PurchasingCloudEvent) Headers() map[string]string {
	headers := map[string]string{
		"ce_specversion": e.SpecVersion,
		"ce_type":        e.Type,
		"ce_source":      e.Source,
		"ce_id":          e.ID,
		"ce_time":        e.Time.Format(time.RFC3339Nano),
		"content-type":   e.DataContentType,
	}
	if e.Subject != "" {
		headers["ce_subject"] = e.Subject
	}
	if e.CorrelationID != "" {
		headers["ce_"+ExtCorrelationID] = e.CorrelationID
	}
	if e.ActorID != "" {
		headers["ce_"+ExtActorID] = e.ActorID
	}
	return headers
}
