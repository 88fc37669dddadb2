package methods

import (
	"context"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/gateway"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// ChannelsMethods reports channel state over RPC.
type ChannelsMethods struct {
	manager *channels.Manager
}

func NewChannelsMethods(m *channels.Manager) *ChannelsMethods {
	return &ChannelsMethods{manager: m}
}

// Register registers the channel RPC methods.
func (m *ChannelsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodChannelsStatus, m.handleStatus)
}

func (m *ChannelsMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"channels": m.manager.GetStatus(),
	}))
}
