package domain

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionStart       Action = "start"
	ActionPause       Action = "pause"
	ActionStop        Action = "stop"
	ActionHome        Action = "home"
	ActionFind        Action = "find"
	ActionSpot        Action = "spot"
	ActionTestVolume  Action = "test_volume"
	ActionSetVolume   Action = "set_volume"
	ActionSetFanSpeed Action = "set_fanspeed"
	ActionGoTo        Action = "go_to"
	ActionStatus      Action = "status"
	ActionConsumables Action = "consumables"
	ActionVolume      Action = "volume"
	ActionToken       Action = "token"
)

// Actions lists every action a Command can carry.
var Actions = []Action{
	ActionStart,
	ActionPause,
	ActionStop,
	ActionHome,
	ActionFind,
	ActionSpot,
	ActionTestVolume,
	ActionSetVolume,
	ActionSetFanSpeed,
	ActionGoTo,
	ActionStatus,
	ActionConsumables,
	ActionVolume,
	ActionToken,
}

// Home Assistant vacuum command words.
var actionAliases = map[string]Action{
	"return_to_base": ActionHome,
	"locate":         ActionFind,
	"clean_spot":     ActionSpot,
	"start_pause":    ActionStart,
	"set_fan_speed":  ActionSetFanSpeed,
}

func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, a := range Actions {
		if string(a) == name {
			return a, nil
		}
	}
	if a, ok := actionAliases[name]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// ReadOnly reports whether the action only queries the robot.
func (a Action) ReadOnly() bool {
	switch a {
	case ActionStatus, ActionConsumables, ActionVolume, ActionToken:
		return true
	default:
		return false
	}
}

type Command struct {
	Action Action `json:"action" yaml:"action"`
	Volume int    `json:"volume,omitempty" yaml:"volume"`
	Speed  int    `json:"speed,omitempty" yaml:"speed"`
	X      int    `json:"x,omitempty" yaml:"x"`
	Y      int    `json:"y,omitempty" yaml:"y"`
}

// Validate checks the action only. Numeric parameters are never rejected,
// the robot client clamps them.
func (c Command) Validate() error {
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	return nil
}

func (c Command) String() string {
	switch c.Action {
	case ActionSetVolume:
		return fmt.Sprintf("%s(%d)", c.Action, c.Volume)
	case ActionSetFanSpeed:
		return fmt.Sprintf("%s(%d)", c.Action, c.Speed)
	case ActionGoTo:
		return fmt.Sprintf("%s(%d,%d)", c.Action, c.X, c.Y)
	default:
		return string(c.Action)
	}
}
