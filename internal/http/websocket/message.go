package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is a message sent to, or received from, a websocket
// client. The Id of a received command is echoed in any reply so the client
// can pair the two. Origin identifies the client a command came from,
// and Target restricts a message to a single client (nil broadcasts).
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks that each key in required is present in the
// message body with the type named ("number", "string" or "uuid").
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const ERR_FMT = "failed to validate key '%v' with type '%v' - %#v"

	for key, kind := range required {
		v, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch kind {
		case "number", "int":
			if _, ok := v.(float64); !ok {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
		case "string":
			if s, ok := v.(string); !ok || s == "" {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
		case "uuid":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
			if _, err := uuid.Parse(s); err != nil {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
		default:
			return fmt.Errorf(ERR_FMT, key, kind, "unknown type")
		}
	}

	return nil
}

// FormReply returns a NEW message addressed to the origin of this message,
// sharing its Id, with the (caller provided) title, type and body.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody == nil {
		replyBody = make(map[string]interface{})
	}
	replyBody["command"] = message.Body

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
