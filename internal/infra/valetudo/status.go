package valetudo

import (
	"encoding/json"
	"fmt"
)

// Status is a typed view of the fields of current_status this repo reads.
// Fields the robot omits stay nil.
type Status struct {
	State      *int     `json:"state"`
	HumanState string   `json:"human_state"`
	Battery    *float64 `json:"battery"`
	CleanTime  *float64 `json:"clean_time"`
	CleanArea  *float64 `json:"clean_area"`
	ErrorCode  *int     `json:"error_code"`
	FanPower   *float64 `json:"fan_power"`
	InCleaning *int     `json:"in_cleaning"`
	DNDEnabled *int     `json:"dnd_enabled"`
	MapPresent *int     `json:"map_present"`
}

// Consumables holds work times in seconds.
type Consumables struct {
	MainBrush   *float64 `json:"main_brush_work_time"`
	SideBrush   *float64 `json:"side_brush_work_time"`
	Filter      *float64 `json:"filter_work_time"`
	SensorDirty *float64 `json:"sensor_dirty_time"`
}

func DecodeStatus(res Result) (Status, error) {
	var st Status
	if err := decodeResult(res, &st); err != nil {
		return Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

func DecodeConsumables(res Result) (Consumables, error) {
	var cs Consumables
	if err := decodeResult(res, &cs); err != nil {
		return Consumables{}, fmt.Errorf("decoding consumables: %w", err)
	}
	return cs, nil
}

// CleanAreaSquareMeters converts the firmware's mm² clean area.
func (s Status) CleanAreaSquareMeters() (float64, bool) {
	if s.CleanArea == nil {
		return 0, false
	}
	return *s.CleanArea / 1e6, true
}

func decodeResult(res Result, dest any) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
