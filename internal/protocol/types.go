package protocol

import (
	"encoding/json"
	"time"

	"github.com/scienceol/barista/internal/power"
)

// Request types sent by a UI to the control endpoint.
const (
	TypeSetEnabled = "set_enabled"
	TypeSetOptions = "set_options"
	TypeStatus     = "status"
	TypePing       = "ping"
	TypePong       = "pong"
)

// ResultType is the response type for a request type.
func ResultType(reqType string) string {
	return reqType + "_result"
}

// Request is a message from a UI to barista.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a message from barista to a UI. Status events pushed on
// every transition have Type "status" and no ID.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SetEnabledPayload is the payload for a "set_enabled" request.
type SetEnabledPayload struct {
	Enabled bool `json:"enabled"`
}

// SetOptionsPayload is the payload for a "set_options" request.
type SetOptionsPayload struct {
	Options power.Options `json:"options"`
}

// StatusPayload describes the supervisor for display.
type StatusPayload struct {
	Phase   string        `json:"phase"`
	Active  bool          `json:"active"` // a helper process is alive
	PID     int           `json:"pid,omitempty"`
	Enabled bool          `json:"enabled"`
	Options power.Options `json:"options"`
	Failed  bool          `json:"failed,omitempty"`
	Error   string        `json:"error,omitempty"`
	Since   time.Time     `json:"since"`
}

// ErrorPayload for error responses.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewStatusPayload converts a supervisor snapshot.
func NewStatusPayload(st power.Status) StatusPayload {
	p := StatusPayload{
		Phase:   st.Phase.String(),
		Active:  st.Phase.Active(),
		PID:     st.PID,
		Enabled: st.Enabled,
		Options: st.Options,
		Failed:  st.Failed(),
		Since:   st.Since,
	}
	if st.Err != nil {
		p.Error = st.Err.Error()
	}
	return p
}

// NewResponse marshals payload into a Response.
func NewResponse(id, typ string, success bool, payload any) (Response, error) {
	resp := Response{ID: id, Type: typ, Success: success}
	if payload == nil {
		return resp, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	resp.Payload = raw
	return resp, nil
}
