package types

// DeviceInfo identifies the simulator device that sensors and the camera
// of one connection belong to.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version"`
}

// NewDeviceInfo returns the device entry for a simulator reached at host.
func NewDeviceInfo(host string) DeviceInfo {
	return DeviceInfo{
		Identifier:   host,
		Name:         "FlightGear Simulator",
		Manufacturer: "FlightGear",
		Model:        "Flight Simulator",
		SWVersion:    "2025.1.0",
	}
}
