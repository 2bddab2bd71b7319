package valetudo

// Endpoint is a path segment under /api/ on the robot.
type Endpoint string

// Read endpoints, issued with GET.
const (
	EndpointToken            Endpoint = "token"
	EndpointCurrentStatus    Endpoint = "current_status"
	EndpointConsumableStatus Endpoint = "consumable_status"
	EndpointGetSoundVolume   Endpoint = "get_sound_volume"
)

// Write endpoints, issued with PUT.
const (
	EndpointSetSoundVolume  Endpoint = "set_sound_volume"
	EndpointTestSoundVolume Endpoint = "test_sound_volume"
	EndpointStartCleaning   Endpoint = "start_cleaning"
	EndpointPauseCleaning   Endpoint = "pause_cleaning"
	EndpointStopCleaning    Endpoint = "stop_cleaning"
	EndpointDriveHome       Endpoint = "drive_home"
	EndpointGoTo            Endpoint = "go_to"
	EndpointFindRobot       Endpoint = "find_robot"
	EndpointFanSpeed        Endpoint = "fanspeed"
	EndpointSpotClean       Endpoint = "spot_clean"
)

var readEndpoints = map[Endpoint]bool{
	EndpointToken:            true,
	EndpointCurrentStatus:    true,
	EndpointConsumableStatus: true,
	EndpointGetSoundVolume:   true,
}

// IsRead reports whether the endpoint belongs to the GET set.
func (e Endpoint) IsRead() bool {
	return readEndpoints[e]
}
