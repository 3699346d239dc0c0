package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
)

const validBatch = `[{
	"messageId": "Jc+4K8RtPxHJfyuDQU9atX///qN3KHYXdA==",
	"threadId": "Au8O2xKHyX1LtE6zW019GX///rZYegAtdA==",
	"ingestionDate": "1540000000000",
	"senderId": "71811853189212",
	"chatType": "CHATROOM",
	"isPublic": "false",
	"sendingApp": "lc",
	"text": "it works"
}]`

func TestDecodeBatch_Valid(t *testing.T) {
	records, err := DecodeBatch([]byte(validBatch))
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "it works", r.Text)
	assert.Equal(t, "CHATROOM", r.ChatType)
	assert.Equal(t, "Au8O2xKHyX1LtE6zW019GX///rZYegAtdA==/Jc+4K8RtPxHJfyuDQU9atX///qN3KHYXdA==", r.DocID())

	ms, err := r.IngestedAt()
	require.NoError(t, err)
	assert.Equal(t, int64(1540000000000), ms)
	assert.False(t, r.HasFiles())
}

func TestDecodeBatch_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ""},
		{"plain string", `"message"`},
		{"single object", `{"messageId":"m1","threadId":"t1","ingestionDate":"1"}`},
		{"empty array", `[]`},
		{"broken json", `[{"messageId":`},
		{"missing message id", `[{"threadId":"t1","ingestionDate":"1"}]`},
		{"missing thread id", `[{"messageId":"m1","ingestionDate":"1"}]`},
		{"bad date", `[{"messageId":"m1","threadId":"t1","ingestionDate":"yesterday"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ierrors.Sentinel(ierrors.ErrCodeInvalidInput)))
		})
	}
}

func TestEncodeBatch_UsesWireNames(t *testing.T) {
	data, err := EncodeBatch([]Record{{MessageID: "m1", ThreadID: "t1", IngestionDate: "5", AttachmentFileType: "pdf"}})
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "m1", raw[0]["messageId"])
	assert.Equal(t, "pdf", raw[0]["attachmentFileType"])
	assert.NotContains(t, raw[0], "tags")
}
