// ABOUTME: Wire shapes for the agent push channel.
// ABOUTME: Clients send control frames; the server pushes enriched messages.

package push

import "github.com/flalingo/flamingo/internal/chat"

// clientEvent is a control frame sent by a connected agent console.
type clientEvent struct {
	Type        string `json:"type"`
	AgentID     string `json:"agent_id,omitempty"`
	ExtensionID string `json:"extension_id,omitempty"`
}

// eventAgentSelected declares which agent identity a connection represents.
const eventAgentSelected = "agent_selected"

// serverEvent is a frame pushed to a connected agent console.
type serverEvent struct {
	Type    string         `json:"type"`
	Message *chat.Enriched `json:"message,omitempty"`
}

// eventMessage carries one enriched conversation flush.
const eventMessage = "message"
