// Package robot decodes the JSON body DingTalk posts to a robot's message
// endpoint. The payload is a tagged variant selected by msgtype.
package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MsgType identifies the content variant of a Message.
type MsgType string

const (
	MsgText     MsgType = "text"
	MsgPicture  MsgType = "picture"
	MsgAudio    MsgType = "audio"
	MsgVideo    MsgType = "video"
	MsgFile     MsgType = "file"
	MsgRichText MsgType = "richText"
)

var (
	// ErrUnknownMsgType is returned for a msgtype outside the known variants.
	ErrUnknownMsgType = errors.New("unknown robot msgtype")
	// ErrInvalidMessage is returned for malformed JSON or missing required fields.
	ErrInvalidMessage = errors.New("invalid robot message")
)

// Content is implemented by the per-msgtype payloads.
type Content interface {
	MsgType() MsgType
}

type TextContent struct {
	Content string `json:"content"`
}

type PictureContent struct {
	PictureDownloadCode string `json:"pictureDownloadCode,omitempty"`
	DownloadCode        string `json:"downloadCode,omitempty"`
}

type AudioContent struct {
	Duration     int64  `json:"duration,omitempty"` // ms
	DownloadCode string `json:"downloadCode,omitempty"`
	Recognition  string `json:"recognition,omitempty"`
}

type VideoContent struct {
	SpaceID      string `json:"spaceId,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	Duration     int64  `json:"duration,omitempty"` // ms
	FileID       string `json:"fileId,omitempty"`
	DownloadCode string `json:"downloadCode,omitempty"`
	VideoType    string `json:"videoType,omitempty"`
}

type FileContent struct {
	SpaceID      string `json:"spaceId,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	DownloadCode string `json:"downloadCode,omitempty"`
	FileID       string `json:"fileId,omitempty"`
	FileType     string `json:"fileType,omitempty"`
}

// RichTextElement is either a text run (Text, URL) or an inline picture
// (Type "picture" and a download code).
type RichTextElement struct {
	Text                string `json:"text,omitempty"`
	URL                 string `json:"url,omitempty"`
	Type                string `json:"type,omitempty"`
	PictureDownloadCode string `json:"pictureDownloadCode,omitempty"`
	DownloadCode        string `json:"downloadCode,omitempty"`
}

// IsPicture reports whether the element is an inline image.
func (e RichTextElement) IsPicture() bool {
	return e.Type == string(MsgPicture) || e.DownloadCode != "" || e.PictureDownloadCode != ""
}

type RichTextContent struct {
	RichText []RichTextElement `json:"richText"`
}

func (TextContent) MsgType() MsgType     { return MsgText }
func (PictureContent) MsgType() MsgType  { return MsgPicture }
func (AudioContent) MsgType() MsgType    { return MsgAudio }
func (VideoContent) MsgType() MsgType    { return MsgVideo }
func (FileContent) MsgType() MsgType     { return MsgFile }
func (RichTextContent) MsgType() MsgType { return MsgRichText }

// AtUser is one entry of Message.AtUsers.
type AtUser struct {
	DingtalkID string `json:"dingtalkId"`
	StaffID    string `json:"staffId,omitempty"`
}

// Message is a robot callback. Content holds the variant named by MsgType.
type Message struct {
	SenderPlatform            string   `json:"senderPlatform,omitempty"`
	ConversationID            string   `json:"conversationId"`
	AtUsers                   []AtUser `json:"atUsers,omitempty"`
	ChatbotCorpID             string   `json:"chatbotCorpId"`
	ChatbotUserID             string   `json:"chatbotUserId"`
	OpenThreadID              string   `json:"openThreadId,omitempty"`
	MsgID                     string   `json:"msgId"`
	SenderNick                string   `json:"senderNick"`
	IsAdmin                   bool     `json:"isAdmin"`
	SenderStaffID             string   `json:"senderStaffId,omitempty"`
	SessionWebhookExpiredTime int64    `json:"sessionWebhookExpiredTime"`
	CreateAt                  int64    `json:"createAt"` // ms
	SenderCorpID              string   `json:"senderCorpId,omitempty"`
	ConversationType          string   `json:"conversationType"` // "1" single, "2" group
	SenderID                  string   `json:"senderId"`
	ConversationTitle         string   `json:"conversationTitle,omitempty"`
	IsInAtList                *bool    `json:"isInAtList,omitempty"`
	SessionWebhook            string   `json:"sessionWebhook"`
	RobotCode                 string   `json:"robotCode,omitempty"`
	MsgType                   MsgType  `json:"msgtype"`

	Content Content `json:"-"`
}

// wireMessage mirrors Message for decoding. Pointers mark required fields so
// absence can be told apart from zero values.
type wireMessage struct {
	SenderPlatform            string          `json:"senderPlatform"`
	ConversationID            *string         `json:"conversationId"`
	AtUsers                   []AtUser        `json:"atUsers"`
	ChatbotCorpID             *string         `json:"chatbotCorpId"`
	ChatbotUserID             *string         `json:"chatbotUserId"`
	OpenThreadID              string          `json:"openThreadId"`
	MsgID                     *string         `json:"msgId"`
	SenderNick                *string         `json:"senderNick"`
	IsAdmin                   *bool           `json:"isAdmin"`
	SenderStaffID             string          `json:"senderStaffId"`
	SessionWebhookExpiredTime *int64          `json:"sessionWebhookExpiredTime"`
	CreateAt                  *int64          `json:"createAt"`
	SenderCorpID              string          `json:"senderCorpId"`
	ConversationType          *string         `json:"conversationType"`
	SenderID                  *string         `json:"senderId"`
	ConversationTitle         string          `json:"conversationTitle"`
	IsInAtList                *bool           `json:"isInAtList"`
	SessionWebhook            *string         `json:"sessionWebhook"`
	RobotCode                 string          `json:"robotCode"`
	MsgType                   *string         `json:"msgtype"`
	Text                      json.RawMessage `json:"text"`
	Content                   json.RawMessage `json:"content"`
}

// Parse decodes and validates a robot callback body.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &m, nil
}

// UnmarshalJSON implements json.Unmarshaler. Errors wrap ErrInvalidMessage
// or ErrUnknownMsgType.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var missing []string
	str := func(name string, p *string) string {
		if p == nil {
			missing = append(missing, name)
			return ""
		}
		return strings.TrimSpace(*p)
	}
	num := func(name string, p *int64) int64 {
		if p == nil {
			missing = append(missing, name)
			return 0
		}
		return *p
	}

	out := Message{
		SenderPlatform:            strings.TrimSpace(w.SenderPlatform),
		ConversationID:            str("conversationId", w.ConversationID),
		AtUsers:                   w.AtUsers,
		ChatbotCorpID:             str("chatbotCorpId", w.ChatbotCorpID),
		ChatbotUserID:             str("chatbotUserId", w.ChatbotUserID),
		OpenThreadID:              strings.TrimSpace(w.OpenThreadID),
		MsgID:                     str("msgId", w.MsgID),
		SenderNick:                str("senderNick", w.SenderNick),
		SenderStaffID:             strings.TrimSpace(w.SenderStaffID),
		SessionWebhookExpiredTime: num("sessionWebhookExpiredTime", w.SessionWebhookExpiredTime),
		CreateAt:                  num("createAt", w.CreateAt),
		SenderCorpID:              strings.TrimSpace(w.SenderCorpID),
		ConversationType:          str("conversationType", w.ConversationType),
		SenderID:                  str("senderId", w.SenderID),
		ConversationTitle:         strings.TrimSpace(w.ConversationTitle),
		IsInAtList:                w.IsInAtList,
		SessionWebhook:            str("sessionWebhook", w.SessionWebhook),
		RobotCode:                 strings.TrimSpace(w.RobotCode),
		MsgType:                   MsgType(str("msgtype", w.MsgType)),
	}
	if w.IsAdmin == nil {
		missing = append(missing, "isAdmin")
	} else {
		out.IsAdmin = *w.IsAdmin
	}
	for i := range out.AtUsers {
		if out.AtUsers[i].DingtalkID == "" {
			missing = append(missing, fmt.Sprintf("atUsers[%d].dingtalkId", i))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}

	content, err := decodeContent(out.MsgType, w.Text, w.Content)
	if err != nil {
		return err
	}
	out.Content = content

	*m = out
	return nil
}

func decodeContent(t MsgType, text, content json.RawMessage) (Content, error) {
	raw := content
	field := "content"
	if t == MsgText {
		raw, field = text, "text"
	}

	var c Content
	switch t {
	case MsgText:
		c = &TextContent{}
	case MsgPicture:
		c = &PictureContent{}
	case MsgAudio:
		c = &AudioContent{}
	case MsgVideo:
		c = &VideoContent{}
	case MsgFile:
		c = &FileContent{}
	case MsgRichText:
		c = &RichTextContent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMsgType, t)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing %s for msgtype %s", ErrInvalidMessage, field, t)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, field, err)
	}

	switch v := c.(type) {
	case *TextContent:
		return *v, nil
	case *PictureContent:
		return *v, nil
	case *AudioContent:
		if v.Duration < 0 {
			return nil, fmt.Errorf("%w: content.duration is negative", ErrInvalidMessage)
		}
		return *v, nil
	case *VideoContent:
		if v.Duration < 0 {
			return nil, fmt.Errorf("%w: content.duration is negative", ErrInvalidMessage)
		}
		return *v, nil
	case *FileContent:
		return *v, nil
	case *RichTextContent:
		return *v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMsgType, t)
}

// MarshalJSON writes the message back in the platform's shape, with the
// variant under "text" for text messages and "content" otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	base, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if m.Content == nil {
		return base, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	body, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	if m.MsgType == MsgText {
		fields["text"] = body
	} else {
		fields["content"] = body
	}
	return json.Marshal(fields)
}

// Text returns the plain text carried by the message: the body of a text
// message or the concatenated text runs of a rich text message.
func (m *Message) Text() string {
	switch c := m.Content.(type) {
	case TextContent:
		return strings.TrimSpace(c.Content)
	case RichTextContent:
		var b strings.Builder
		for _, el := range c.RichText {
			if !el.IsPicture() {
				b.WriteString(el.Text)
			}
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}
