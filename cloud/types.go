package cloud

import "encoding/json"

// SuccessStatusCode is the envelope status the API uses to mark a payload as
// authoritative. Any other value, including HTTP 200 with an error envelope,
// is not success.
const SuccessStatusCode = 100

// DefaultParameter is the placeholder parameter for commands which take none.
const DefaultParameter = "default"

// CommandTypeCommand is the commandType for the built in command vocabulary.
const CommandTypeCommand = "command"

// Command is a fully formed outbound instruction for a device. Commands are
// constructed at send time and never persisted.
type Command struct {
	CommandType string `json:"commandType"`
	Command     string `json:"command"`
	Parameter   string `json:"parameter"`
}

// Description is one entry from the device listing, normalised across the
// physical device list and the infrared remote list. Remote is true for
// entries which originate from the infrared list, these have no status
// endpoint.
type Description struct {
	ID     string
	Type   string
	Name   string
	Hub    string
	Cloud  bool
	Remote bool
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

type deviceListBody struct {
	DeviceList []struct {
		DeviceID           string `json:"deviceId"`
		DeviceType         string `json:"deviceType"`
		DeviceName         string `json:"deviceName"`
		HubDeviceID        string `json:"hubDeviceId"`
		EnableCloudService bool   `json:"enableCloudService"`
	} `json:"deviceList"`
	InfraredRemoteList []struct {
		DeviceID    string `json:"deviceId"`
		RemoteType  string `json:"remoteType"`
		DeviceName  string `json:"deviceName"`
		HubDeviceID string `json:"hubDeviceId"`
	} `json:"infraredRemoteList"`
}
