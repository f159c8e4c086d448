package store

import "encoding/json"

// Collection layout under the data root:
//
//	merchants/<merchantId>/agentsenrolled/<agentId>.json
//	merchants/<merchantId>/agentlogs/<runId>.json
//	merchants/<merchantId>/agentinbox/<docId>.json
//	agentschedule/<scheduleId>.json
//	apikeys/<key>.json
const (
	CollectionSchedules = "agentschedule"
	CollectionAPIKeys   = "apikeys"
)

// Document is one entry returned by a collection listing.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// APIKeyDoc maps a bearer key onto a merchant identity.
type APIKeyDoc struct {
	MerchantID string `json:"merchantId"`
	Label      string `json:"label,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}
