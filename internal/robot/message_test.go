package robot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commonFields = `
  "conversationId": " cid6KeBBLoveMJOGXoYKF5x7EeiodoA== ",
  "atUsers": [{"dingtalkId": "$:LWCP_v1:$abc"}],
  "chatbotCorpId": "dingb0a6d5",
  "chatbotUserId": "$:LWCP_v1:$bot",
  "msgId": "msgNXVJ2jqnI1XyCh3zUJeGyQ==",
  "senderNick": "Alice",
  "isAdmin": true,
  "senderStaffId": "manager123",
  "sessionWebhookExpiredTime": 1613635652738,
  "createAt": 1613630252678,
  "senderCorpId": "dingb0a6d5",
  "conversationType": "2",
  "senderId": "$:LWCP_v1:$sender",
  "conversationTitle": "ops",
  "isInAtList": true,
  "sessionWebhook": "https://oapi.dingtalk.com/robot/sendBySession?session=abc",
  "robotCode": "dingrobot"`

func body(extra string) []byte {
	return []byte("{" + commonFields + "," + extra + "}")
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		check func(t *testing.T, m *Message)
	}{
		{
			name:  "text",
			extra: `"msgtype": "text", "text": {"content": " hello bot "}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(TextContent)
				require.True(t, ok)
				assert.Equal(t, " hello bot ", c.Content)
				assert.Equal(t, "hello bot", m.Text())
			},
		},
		{
			name:  "picture",
			extra: `"msgtype": "picture", "content": {"downloadCode": "dc1", "pictureDownloadCode": "pdc1"}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(PictureContent)
				require.True(t, ok)
				assert.Equal(t, "dc1", c.DownloadCode)
				assert.Equal(t, "pdc1", c.PictureDownloadCode)
				assert.Equal(t, "", m.Text())
			},
		},
		{
			name:  "audio",
			extra: `"msgtype": "audio", "content": {"duration": 4000, "downloadCode": "dc", "recognition": "hi"}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(AudioContent)
				require.True(t, ok)
				assert.Equal(t, int64(4000), c.Duration)
				assert.Equal(t, "hi", c.Recognition)
			},
		},
		{
			name:  "video",
			extra: `"msgtype": "video", "content": {"duration": 10, "videoType": "mp4", "fileId": "f"}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(VideoContent)
				require.True(t, ok)
				assert.Equal(t, "mp4", c.VideoType)
			},
		},
		{
			name:  "file",
			extra: `"msgtype": "file", "content": {"fileName": "a.pdf", "fileType": "pdf", "spaceId": "s"}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(FileContent)
				require.True(t, ok)
				assert.Equal(t, "a.pdf", c.FileName)
			},
		},
		{
			name: "rich text",
			extra: `"msgtype": "richText", "content": {"richText": [
				{"text": "see "},
				{"type": "picture", "downloadCode": "dc"},
				{"text": "docs", "url": "https://example.com"}
			]}`,
			check: func(t *testing.T, m *Message) {
				c, ok := m.Content.(RichTextContent)
				require.True(t, ok)
				require.Len(t, c.RichText, 3)
				assert.True(t, c.RichText[1].IsPicture())
				assert.False(t, c.RichText[2].IsPicture())
				assert.Equal(t, "see docs", m.Text())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(body(tt.extra))
			require.NoError(t, err)
			assert.Equal(t, "cid6KeBBLoveMJOGXoYKF5x7EeiodoA==", m.ConversationID, "strings are trimmed")
			assert.True(t, m.IsAdmin)
			assert.Equal(t, int64(1613630252678), m.CreateAt)
			require.NotNil(t, m.IsInAtList)
			assert.True(t, *m.IsInAtList)
			assert.Equal(t, m.MsgType, m.Content.MsgType())
			tt.check(t, m)
		})
	}
}

func TestParseUnknownMsgType(t *testing.T) {
	_, err := Parse(body(`"msgtype": "markdown", "content": {}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMsgType))
}

func TestParseMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "missing msgtype",
			data:    "{" + commonFields + "}",
			wantMsg: "msgtype",
		},
		{
			name:    "missing text body",
			data:    "{" + commonFields + `, "msgtype": "text"}`,
			wantMsg: "missing text",
		},
		{
			name:    "null content",
			data:    "{" + commonFields + `, "msgtype": "file", "content": null}`,
			wantMsg: "missing content",
		},
		{
			name:    "missing isAdmin",
			data:    "{" + strings.Replace(commonFields, `"isAdmin": true,`, "", 1) + `, "msgtype": "text", "text": {"content": "x"}}`,
			wantMsg: "isAdmin",
		},
		{
			name:    "missing senderId and msgId",
			data:    `{"msgtype": "text", "text": {"content": "x"}}`,
			wantMsg: "msgId",
		},
		{
			name:    "negative duration",
			data:    "{" + commonFields + `, "msgtype": "audio", "content": {"duration": -1}}`,
			wantMsg: "duration",
		},
		{
			name:    "wrong field type",
			data:    "{" + commonFields + `, "msgtype": "text", "text": "hello"}`,
			wantMsg: "text",
		},
		{
			name:    "not json",
			data:    `<xml/>`,
			wantMsg: "invalid robot message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseKeepsExtraFieldsOut(t *testing.T) {
	m, err := Parse(body(`"msgtype": "text", "text": {"content": "x"}, "somethingNew": 1`))
	require.NoError(t, err)
	assert.Equal(t, MsgText, m.MsgType)
}

func TestMarshalUsesPlatformShape(t *testing.T) {
	m, err := Parse(body(`"msgtype": "text", "text": {"content": "hello"}`))
	require.NoError(t, err)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.JSONEq(t, `{"content":"hello"}`, string(fields["text"]))
	assert.NotContains(t, fields, "content")
	assert.JSONEq(t, `"text"`, string(fields["msgtype"]))

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestMarshalNonTextUsesContentKey(t *testing.T) {
	m, err := Parse(body(`"msgtype": "file", "content": {"fileName": "a.pdf"}`))
	require.NoError(t, err)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.JSONEq(t, `{"fileName":"a.pdf"}`, string(fields["content"]))
}
