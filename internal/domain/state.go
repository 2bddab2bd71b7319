package domain

// RobotState is the coarse vacuum state exposed to home automation.
type RobotState string

const (
	StateCleaning  RobotState = "cleaning"
	StateDocked    RobotState = "docked"
	StatePaused    RobotState = "paused"
	StateIdle      RobotState = "idle"
	StateReturning RobotState = "returning"
	StateError     RobotState = "error"
	StateUnknown   RobotState = "unknown"
)

// StateFromCode maps the firmware's numeric state to a RobotState.
func StateFromCode(code int) RobotState {
	switch code {
	case 5, 7, 11, 16, 17, 18:
		return StateCleaning
	case 8, 100:
		return StateDocked
	case 10:
		return StatePaused
	case 1, 2, 3, 4, 13, 14:
		return StateIdle
	case 6, 15:
		return StateReturning
	case 9, 12:
		return StateError
	default:
		return StateUnknown
	}
}
