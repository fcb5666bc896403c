package websocket

import (
	"encoding/json"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Sensor data
	MessageTypeReading MessageType = "reading"
	MessageTypeAlert   MessageType = "alert"

	// Workflow execution events
	MessageTypeWorkflowEvent MessageType = "workflow_event"

	// Connection handling
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`

	// machineID scopes delivery to clients subscribed to that machine.
	machineID uuid.UUID
}

type ReadingData struct {
	ReadingID      int64              `json:"reading_id"`
	SensorID       int64              `json:"sensor_id"`
	MachineID      uuid.UUID          `json:"machine_id"`
	SensorType     string             `json:"sensor_type"`
	Unit           string             `json:"unit"`
	Value          float64            `json:"value"`
	Timestamp      time.Time          `json:"timestamp"`
	OutOfThreshold bool               `json:"out_of_threshold"`
	Breach         *monitoring.Breach `json:"breach,omitempty"`
}

type WorkflowEventData struct {
	ExecutionID string          `json:"execution_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func NewReadingMessage(sensor *storage.Sensor, reading *storage.Reading, breach *monitoring.Breach) Message {
	msg := NewMessage(MessageTypeReading, ReadingData{
		ReadingID:      reading.ID,
		SensorID:       reading.SensorID,
		MachineID:      sensor.MachineID,
		SensorType:     sensor.Type,
		Unit:           sensor.Unit,
		Value:          reading.Value,
		Timestamp:      reading.Timestamp,
		OutOfThreshold: breach != nil,
		Breach:         breach,
	})
	msg.machineID = sensor.MachineID
	return msg
}

func NewAlertMessage(alert *storage.Alert) Message {
	msg := NewMessage(MessageTypeAlert, alert)
	msg.machineID = alert.MachineID
	return msg
}

func NewWorkflowEventMessage(ev *storage.ExecutionEvent) Message {
	msg := NewMessage(MessageTypeWorkflowEvent, WorkflowEventData{
		ExecutionID: ev.ExecutionID,
		EventType:   ev.EventType,
		Payload:     ev.Payload,
	})
	msg.Timestamp = ev.Timestamp
	return msg
}
