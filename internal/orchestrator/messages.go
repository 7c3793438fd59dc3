package orchestrator

import "encoding/json"

// wireMessage is the minimal shape every signaling/control message shares:
// a type discriminant plus whatever fields that type needs. Dispatch reads
// the discriminant first, then unmarshals the full payload.
type wireMessage struct {
	Type string `json:"type"`
}

type operatorHelloMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type hostHelloMsg struct {
	Type            string        `json:"type"`
	HostID          string        `json:"host_id"`
	Monitors        []monitorJSON `json:"monitors"`
	ActiveMonitorID string        `json:"active_monitor_id"`
}

type monitorListMsg struct {
	Type            string        `json:"type"`
	Monitors        []monitorJSON `json:"monitors"`
	ActiveMonitorID string        `json:"active_monitor_id"`
}

type monitorJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	IsPrimary bool   `json:"isPrimary"`
}

type monitorSwitchMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type monitorSwitchResultMsg struct {
	Type            string `json:"type"`
	ActiveMonitorID string `json:"active_monitor_id"`
}

type authMsg struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

type authResultMsg struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

type inputMsg struct {
	Type     string           `json:"type"`
	Mouse    *inputMouseJSON  `json:"mouse,omitempty"`
	Keyboard *inputKeyJSON    `json:"keyboard,omitempty"`
	Special  *inputSpecialMsg `json:"special,omitempty"`
}

type inputMouseJSON struct {
	X               float64        `json:"x"`
	Y               float64        `json:"y"`
	Buttons         map[string]*bool `json:"buttons,omitempty"`
	WheelVertical   float64        `json:"wheel_vertical,omitempty"`
	WheelHorizontal float64        `json:"wheel_horizontal,omitempty"`
}

type inputKeyJSON struct {
	Scancode uint16 `json:"scancode"`
	Extended bool   `json:"extended,omitempty"`
	Down     bool   `json:"down"`
}

type inputSpecialMsg struct {
	Action string `json:"action"`
}

type hostBusyMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type iceStateMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type sdpMsg struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	SDPType string `json:"sdp_type"`
}

type iceCandidateMsg struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type frameFallbackMsg struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Data   string `json:"data"`
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
