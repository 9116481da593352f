package api

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/immich-relay/internal/http/websocket"
	"github.com/hbomb79/immich-relay/internal/upload"
)

const (
	TITLE_UPLOAD_UPDATE     = "UPLOAD_UPDATE"
	TITLE_WORKSPACES_SWEPT  = "WORKSPACES_SWEPT"
	COMMAND_UPLOAD_STATUS   = "UPLOAD_STATUS"
	COMMAND_SUCCESS_REPLY   = "COMMAND_SUCCESS"
	uploadIdArgument        = "id"
	connectionUploadsField  = "uploads"
	updateUploadField       = "upload"
	updateSweepRemovedField = "removed"
)

type (
	statusStore interface {
		Status(uuid.UUID) (upload.Status, bool)
		Statuses() []upload.Status
	}

	broadcaster struct {
		socketHub *websocket.SocketHub
		uploads   statusStore
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, uploads statusStore) *broadcaster {
	b := &broadcaster{socketHub, uploads}

	socketHub.WithConnectionCallback(func() map[string]interface{} {
		return map[string]interface{}{connectionUploadsField: uploads.Statuses()}
	})
	socketHub.BindCommand(COMMAND_UPLOAD_STATUS, b.handleStatusCommand)

	return b
}

// BroadcastUploadUpdate sends the current status of the upload
// to all connected activity clients.
func (hub *broadcaster) BroadcastUploadUpdate(id uuid.UUID) error {
	status, ok := hub.uploads.Status(id)
	if !ok {
		return fmt.Errorf("upload %s is no longer tracked", id)
	}

	hub.broadcast(TITLE_UPLOAD_UPDATE, map[string]interface{}{updateUploadField: status})
	return nil
}

func (hub *broadcaster) BroadcastSweep(removed int) error {
	hub.broadcast(TITLE_WORKSPACES_SWEPT, map[string]interface{}{updateSweepRemovedField: removed})
	return nil
}

func (hub *broadcaster) handleStatusCommand(socket *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{uploadIdArgument: "uuid"}); err != nil {
		return err
	}

	id := uuid.MustParse(message.Body[uploadIdArgument].(string))
	status, ok := hub.uploads.Status(id)
	if !ok {
		return fmt.Errorf("upload %s does not exist", id)
	}

	socket.Send(message.FormReply(COMMAND_SUCCESS_REPLY, map[string]interface{}{updateUploadField: status}, websocket.Response))
	return nil
}

func (hub *broadcaster) broadcast(title string, body map[string]interface{}) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  body,
		Type:  websocket.Update,
	})
}
