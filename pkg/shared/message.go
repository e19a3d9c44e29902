package shared

import (
	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
)

// MessageType names a frame sent from the server to the browser.
type MessageType string

const (
	MessageTypeSession       MessageType = "session"        // session ID after connect
	MessageTypeState         MessageType = "state"          // full world snapshot
	MessageTypePlayer        MessageType = "player"         // player moved or changed
	MessageTypeStatus        MessageType = "status"         // interpreter status
	MessageTypeMessage       MessageType = "message"        // user-facing text
	MessageTypeLevel         MessageType = "level"          // a level was loaded
	MessageTypeLevelComplete MessageType = "level_complete" // all bugs on a level defeated
	MessageTypeRoomCompleted MessageType = "room_completed" // last level done
	MessageTypeGameOver      MessageType = "game_over"      // player health depleted
	MessageTypeError         MessageType = "error"          // request rejected
)

// Message is one frame from server to client. Only the fields that belong
// to Type are set.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	// SESSION: token for reconnecting to the same session
	Token string `json:"token,omitempty"`

	// MESSAGE, ERROR, ROOM_COMPLETED, GAME_OVER
	Content string `json:"content,omitempty"`
	Kind    string `json:"kind,omitempty"`

	// LEVEL, LEVEL_COMPLETE
	Level        int    `json:"level,omitempty"`
	LevelName    string `json:"levelName,omitempty"`
	Difficulty   int    `json:"difficulty,omitempty"`
	Custom       bool   `json:"custom,omitempty"`
	BugsDefeated int    `json:"bugsDefeated,omitempty"`

	Player *grid.Player   `json:"player,omitempty"`
	World  *grid.Snapshot `json:"world,omitempty"`
	Status *crisis.Status `json:"status,omitempty"`
}

// Action names a request sent from the browser to the server.
type Action string

const (
	ActionExecute   Action = "execute"
	ActionStep      Action = "step"
	ActionStop      Action = "stop"
	ActionRestart   Action = "restart"
	ActionSpeed     Action = "speed"
	ActionLoadLevel Action = "load_level"
	ActionStatus    Action = "status"
	ActionKeepalive Action = "keepalive"
)

// Request is one client action.
type Request struct {
	Action Action `json:"action"`
	Code   string `json:"code,omitempty"`
	// Speed is the delay between commands in milliseconds.
	Speed int `json:"speed,omitempty"`
	// Level selects a built-in level; LevelID a stored custom level.
	Level   int            `json:"level,omitempty"`
	LevelID string         `json:"levelId,omitempty"`
	Layout  *levels.Layout `json:"layout,omitempty"`
}
