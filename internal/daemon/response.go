package daemon

import (
	"encoding/json"
	"log/slog"
)

// Message statuses used on the control socket
const (
	StatusInfo  = "INFO"
	StatusWarn  = "WARN"
	StatusError = "ERROR"
)

// Response is the single JSON document written back for every control
// command except LOGS, which streams raw log lines instead.
type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     interface{}       `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (r *Response) AddMessage(message string, status string) {
	r.Messages = append(r.Messages, ResponseMessage{
		Message: message,
		Status:  status,
	})
}

func (r *Response) AddData(data interface{}) {
	r.Data = data
}

// Failed reports whether any message carries the ERROR status.
func (r *Response) Failed() bool {
	for _, m := range r.Messages {
		if m.Status == StatusError {
			return true
		}
	}
	return false
}

// DecodeData re-decodes the generic Data payload into v.
func (r *Response) DecodeData(v interface{}) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (r *Response) ToJSON() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		return `{"messages":[{"message":"failed to encode response","status":"ERROR"}]}`
	}
	return string(bytes)
}

// LogMessages prints every message through slog at the matching level.
func (r *Response) LogMessages() {
	for _, message := range r.Messages {
		switch message.Status {
		case StatusWarn:
			slog.Warn(message.Message)
		case StatusError:
			slog.Error(message.Message)
		default:
			slog.Info(message.Message)
		}
	}
}
