// Package message defines the chat message record as delivered by the
// messaging layer and validates batches at the deserialization boundary.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
)

// Record is one chat message. Records are immutable once indexed and are
// unique by (ThreadID, MessageID).
type Record struct {
	MessageID          string   `json:"messageId"`
	ThreadID           string   `json:"threadId"`
	IngestionDate      string   `json:"ingestionDate"`
	SenderID           string   `json:"senderId"`
	ChatType           string   `json:"chatType"`
	IsPublic           string   `json:"isPublic"`
	SendingApp         string   `json:"sendingApp"`
	Text               string   `json:"text"`
	AttachmentFileType string   `json:"attachmentFileType,omitempty"`
	AttachmentNames    []string `json:"attachmentNames,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// DocID is the identifier used for the record inside an index.
func (r Record) DocID() string {
	return r.ThreadID + "/" + r.MessageID
}

// IngestedAt returns IngestionDate as epoch milliseconds.
func (r Record) IngestedAt() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(r.IngestionDate), 10, 64)
}

// HasFiles reports whether the record carries an attachment.
func (r Record) HasFiles() bool {
	return r.AttachmentFileType != "" || len(r.AttachmentNames) > 0
}

// Validate checks the fields the index relies on.
func (r Record) Validate() error {
	if r.MessageID == "" {
		return fmt.Errorf("messageId is required")
	}
	if r.ThreadID == "" {
		return fmt.Errorf("threadId is required")
	}
	if _, err := r.IngestedAt(); err != nil {
		return fmt.Errorf("ingestionDate %q is not epoch milliseconds", r.IngestionDate)
	}
	return nil
}

// DecodeBatch parses a JSON array of records. The payload must be a
// non-empty array and every record must validate.
func DecodeBatch(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ierrors.ValidationError("messages payload is empty", nil)
	}
	if trimmed[0] != '[' {
		return nil, ierrors.ValidationError("messages payload must be a JSON array", nil)
	}

	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, ierrors.ValidationError("messages payload is not valid JSON", err)
	}
	if err := ValidateBatch(records); err != nil {
		return nil, err
	}
	return records, nil
}

// ValidateBatch applies the same rules as DecodeBatch to already-decoded records.
func ValidateBatch(records []Record) error {
	if len(records) == 0 {
		return ierrors.ValidationError("messages batch is empty", nil)
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return ierrors.ValidationError(fmt.Sprintf("message %d: %v", i, err), err).
				WithDetail("index", strconv.Itoa(i))
		}
	}
	return nil
}

// EncodeBatch serializes records the way the messaging layer delivers them.
func EncodeBatch(records []Record) ([]byte, error) {
	return json.Marshal(records)
}
