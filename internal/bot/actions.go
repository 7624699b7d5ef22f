package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is the closed set of inline-button actions. Callback data on the
// wire is "name" or "name:payload"; anything else is ignored.
type Action int

const (
	ActionUnknown Action = iota
	ActionHelp
	ActionStatus
	ActionSubscribe
	ActionSettings
	ActionMainMenu
	ActionUnsubscribe
	ActionCheckPayment
	ActionSetLevel // payload: level number
)

var actionNames = map[Action]string{
	ActionHelp:         "help",
	ActionStatus:       "status",
	ActionSubscribe:    "subscribe",
	ActionSettings:     "settings",
	ActionMainMenu:     "menu",
	ActionUnsubscribe:  "unsubscribe",
	ActionCheckPayment: "check_payment",
	ActionSetLevel:     "level",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// Data encodes an action (and optional payload) as callback data.
func (a Action) Data() string { return a.String() }

func levelData(level int) string {
	return fmt.Sprintf("%s:%d", ActionSetLevel.String(), level)
}

// parseAction decodes callback data. The level payload is validated by the
// handler, not here.
func parseAction(data string) (Action, string) {
	name, payload, _ := strings.Cut(strings.TrimSpace(data), ":")
	for a, n := range actionNames {
		if n == name {
			return a, payload
		}
	}
	return ActionUnknown, ""
}

func parseLevelPayload(payload string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, false
	}
	return n, true
}
