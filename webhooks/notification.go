package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedNotification = errors.New("webhooks: notification payload is malformed")

// Notification is a decoded Airtable webhook payload. A single delivery may
// carry any combination of created, changed, and destroyed record sections.
type Notification struct {
	ActionMetadata ActionMetadata           `json:"actionMetadata"`
	CreatedRecords map[string]RecordPayload `json:"createdRecordsById"`
	ChangedRecords map[string]RecordPayload `json:"changedRecordsById"`
	DestroyedIDs   []string                 `json:"destroyedRecordIds"`
}

type ActionMetadata struct {
	BaseID         string          `json:"baseId"`
	TableID        string          `json:"tableId"`
	SourceMetadata *SourceMetadata `json:"sourceMetadata,omitempty"`
}

type SourceMetadata struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

// RecordPayload is the per-record fragment inside created/changed sections.
// Webhook payloads are not authoritative; reconciliation refetches the
// record before applying changes.
type RecordPayload struct {
	Current struct {
		CellValuesByFieldID map[string]any `json:"cellValuesByFieldId"`
	} `json:"current"`
}

// ParseNotification decodes a raw delivery body. A payload without action
// metadata naming the base and table cannot be routed to a form and is
// rejected as malformed.
func ParseNotification(rawBody []byte) (Notification, error) {
	var notification Notification
	if len(rawBody) == 0 {
		return Notification{}, fmt.Errorf("%w: empty body", ErrMalformedNotification)
	}
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if strings.TrimSpace(notification.ActionMetadata.BaseID) == "" ||
		strings.TrimSpace(notification.ActionMetadata.TableID) == "" {
		return Notification{}, fmt.Errorf("%w: missing action metadata", ErrMalformedNotification)
	}
	return notification, nil
}

// Empty reports whether the notification carries no record sections at all.
func (n Notification) Empty() bool {
	return len(n.CreatedRecords) == 0 && len(n.ChangedRecords) == 0 && len(n.DestroyedIDs) == 0
}
