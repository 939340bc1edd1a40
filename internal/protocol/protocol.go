package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message names.
const (
	NameAuth               = "auth"
	NameRoomInfo           = "room_info"
	NameGetBuf             = "get_buf"
	NameCreateBuf          = "create_buf"
	NameDeleteBuf          = "delete_buf"
	NameRenameBuf          = "rename_buf"
	NameSaveBuf            = "save_buf"
	NameSaved              = "saved"
	NamePatch              = "patch"
	NameHighlight          = "highlight"
	NameMsg                = "msg"
	NameKick               = "kick"
	NameSetPerms           = "set_perms"
	NamePerms              = "perms"
	NameRequestEdit        = "request_edit"
	NameRequestPerms       = "request_perms"
	NameSummon             = "summon"
	NameJoin               = "join"
	NamePart               = "part"
	NameError              = "error"
	NameDisconnect         = "disconnect"
	NamePing               = "ping"
	NamePong               = "pong"
	NameAck                = "ack"
	NameRequestCredentials = "request_credentials"
	NameCredentials        = "credentials"
)

// Errors returned while decoding frames.
var (
	// ErrMalformed indicates a frame or payload that could not be decoded.
	ErrMalformed = errors.New("malformed message")

	// ErrMissingName indicates a frame without a name field.
	ErrMissingName = errors.New("message has no name")
)

// Error describes a protocol error for a single message.
type Error struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message is implemented by every outbound message.
type Message interface {
	MessageName() string
}

// Encode serializes m as a single JSON object with its name field set.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.MessageName(), err)
	}
	name, err := json.Marshal(m.MessageName())
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, &Error{Name: m.MessageName(), Err: fmt.Errorf("%w: payload is not an object", ErrMalformed)}
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(name) + 10)
	buf.WriteString(`{"name":`)
	buf.Write(name)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode extracts the message name from a frame. The returned payload is the
// complete frame and can be passed to Unmarshal.
func Decode(frame []byte) (string, json.RawMessage, error) {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return "", nil, &Error{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if head.Name == "" {
		return "", nil, &Error{Err: ErrMissingName}
	}
	return head.Name, json.RawMessage(frame), nil
}

// Unmarshal decodes the payload of the named message into v.
func Unmarshal(name string, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &Error{Name: name, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return nil
}

// IsProtocolError reports whether err was caused by a malformed or unnamed
// frame.
func IsProtocolError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
