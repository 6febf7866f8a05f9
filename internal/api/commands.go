package api

import (
	"context"
	"fmt"

	"github.com/yegors/handsfree/internal/control"
	"github.com/yegors/handsfree/internal/websocket"
	"github.com/yegors/handsfree/pkg/logger"
)

// CommandHandler runs session commands received over the websocket feed
type CommandHandler struct {
	ctx    context.Context
	ctrl   control.Controller
	logger *logger.Logger
}

// NewCommandHandler creates a websocket message handler. ctx bounds
// microphone acquisition for starts issued by clients.
func NewCommandHandler(ctx context.Context, ctrl control.Controller, log *logger.Logger) *CommandHandler {
	return &CommandHandler{ctx: ctx, ctrl: ctrl, logger: log.Named("ws-commands")}
}

// HandleMessage implements websocket.MessageHandler. The command result is
// sent back to the issuing client only.
func (h *CommandHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	if messageType != websocket.MessageTypeCommand {
		return fmt.Errorf("unsupported message type %q", messageType)
	}
	cmd, _ := data["cmd"].(string)

	resp, err := control.Execute(h.ctx, h.ctrl, cmd)
	if err != nil {
		h.logger.Info("Websocket command failed", logger.String("cmd", cmd), logger.Error(err))
	}
	client.SendMessage(&websocket.Message{Type: websocket.MessageTypeStatus, Data: resp})
	return nil
}
