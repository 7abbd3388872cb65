package twist

import (
	"encoding/json"
	"fmt"
	"math"
)

// Twist is a velocity command for the base.
type Twist struct {
	LinearX  float64 `json:"linear_x"`  // m/s, forward
	AngularZ float64 `json:"angular_z"` // rad/s, counter-clockwise
}

type vector3 struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

// wire accepts both the flat form and the geometry_msgs/Twist nesting
// produced by ROS-to-MQTT bridges: {"linear":{"x":..},"angular":{"z":..}}.
type wire struct {
	LinearX  *float64 `json:"linear_x"`
	AngularZ *float64 `json:"angular_z"`
	Linear   *vector3 `json:"linear"`
	Angular  *vector3 `json:"angular"`
}

// Parse decodes a command payload. Missing fields are zero; non-finite
// values are rejected.
func Parse(payload []byte) (Twist, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Twist{}, fmt.Errorf("twist: %w", err)
	}

	var t Twist
	switch {
	case w.LinearX != nil:
		t.LinearX = *w.LinearX
	case w.Linear != nil && w.Linear.X != nil:
		t.LinearX = *w.Linear.X
	}
	switch {
	case w.AngularZ != nil:
		t.AngularZ = *w.AngularZ
	case w.Angular != nil && w.Angular.Z != nil:
		t.AngularZ = *w.Angular.Z
	}

	if math.IsInf(t.LinearX, 0) || math.IsInf(t.AngularZ, 0) {
		return Twist{}, fmt.Errorf("twist: non-finite command %+v", t)
	}
	return t, nil
}
