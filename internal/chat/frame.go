package chat

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types understood by the relay.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypeChat     = "chat"
	TypeSystem   = "system"
	TypeUserList = "userList"
)

// SystemUserID is the sender of server generated frames.
const SystemUserID = "System"

// ErrMalformedFrame is returned by ParseFrame for payloads that are not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one JSON message exchanged over a connection.
// Fields the relay does not know are kept as-is and written back out.
type Frame struct {
	Type           string
	UserID         string
	Email          string
	Text           string
	Recipient      string
	RecipientEmail string
	Timestamp      string
	MessageID      string
	Users          []Presence

	extra map[string]jsoniter.RawMessage
}

// ParseFrame decodes a single inbound payload.
func ParseFrame(b []byte) (Frame, error) {
	if trimmed := bytes.TrimSpace(b); len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

func (f *Frame) stringField(key string) *string {
	switch key {
	case "type":
		return &f.Type
	case "userId":
		return &f.UserID
	case "email":
		return &f.Email
	case "text":
		return &f.Text
	case "recipient":
		return &f.Recipient
	case "recipientEmail":
		return &f.RecipientEmail
	case "timestamp":
		return &f.Timestamp
	case "messageId":
		return &f.MessageID
	}
	return nil
}

func (f *Frame) UnmarshalJSON(b []byte) error {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("frame is null")
	}

	*f = Frame{}
	for k, raw := range fields {
		if string(raw) != "null" {
			if dst := f.stringField(k); dst != nil {
				if err := json.Unmarshal(raw, dst); err == nil {
					continue
				}
			} else if k == "users" {
				var users []Presence
				if err := json.Unmarshal(raw, &users); err == nil {
					f.Users = users
					continue
				}
			}
		}
		if f.extra == nil {
			f.extra = make(map[string]jsoniter.RawMessage)
		}
		f.extra[k] = append(jsoniter.RawMessage(nil), raw...)
	}
	return nil
}

func (f Frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.extra)+9)
	for k, v := range f.extra {
		out[k] = v
	}
	for _, k := range []string{"type", "userId", "email", "text", "recipient", "recipientEmail", "timestamp", "messageId"} {
		if v := *f.stringField(k); v != "" {
			out[k] = v
		}
	}
	if f.Users != nil {
		out["users"] = f.Users
	}
	return json.Marshal(out)
}

// Has reports whether the frame carries a non-null value for key, typed or not.
// Empty strings and null count as absent.
func (f *Frame) Has(key string) bool {
	if dst := f.stringField(key); dst != nil && *dst != "" {
		return true
	}
	if key == "users" && f.Users != nil {
		return true
	}
	raw, ok := f.extra[key]
	return ok && string(raw) != "null"
}

// Targeted reports whether a chat frame is addressed to a single recipient.
func (f *Frame) Targeted() bool {
	return f.Recipient != "" && f.RecipientEmail != ""
}

// stampTime sets the timestamp unless the client already sent one.
func (f *Frame) stampTime(now time.Time) {
	if !f.Has("timestamp") {
		delete(f.extra, "timestamp")
		f.Timestamp = FormatTime(now)
	}
}

// FormatTime renders t the way browsers do with toISOString.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func newUserListFrame(users []Presence, now time.Time) Frame {
	return Frame{Type: TypeUserList, Users: users, Timestamp: FormatTime(now)}
}

func newSystemFrame(text string, now time.Time) Frame {
	return Frame{Type: TypeSystem, UserID: SystemUserID, Text: text, Timestamp: FormatTime(now)}
}

func newLeaveFrame(p Presence, users []Presence, now time.Time) Frame {
	return Frame{Type: TypeLeave, UserID: p.UserID, Email: p.Email, Users: users, Timestamp: FormatTime(now)}
}
