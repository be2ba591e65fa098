// Package transport models only the core's side of the WebSocket
// contract named in spec.md §6: frame shapes, JSON Schema parameter
// validation, and handshake authentication. It never listens on a
// socket or routes a connection — that remains an external collaborator
// per spec.md §1's Non-goals — but the frame encode/decode helpers and
// validation a router would call into live here.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// FrameType names a client→server or server→client WebSocket frame
// kind, per spec.md §6's "Client transport (WebSocket)" contract.
type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameVoice   FrameType = "voice"
	FrameResume  FrameType = "resume"
	FrameEvent   FrameType = "event"
)

// Frame is the wire shape spec.md §6 names:
// {type, data, session_id, agent_kind?, timestamp, event_id}.
type Frame struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	AgentKind models.AgentKind `json:"agent_kind,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   uint64          `json:"event_id,omitempty"`
}

// MessageData is the decoded Data payload of a {type:"message"} frame.
type MessageData struct {
	Content string `json:"content"`
}

// VoiceData is the decoded Data payload of a {type:"voice"} frame.
type VoiceData struct {
	Audio []byte `json:"audio"`
}

// ResumeData is the decoded Data payload of a {type:"resume"} frame.
type ResumeData struct {
	LastEventID uint64 `json:"last_event_id"`
}

// EventFrame renders a bus event as the server-to-client frame shape.
func EventFrame(sessionID string, e models.Event) (Frame, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: marshal event payload: %w", err)
	}
	return Frame{
		Type:      FrameEvent,
		Data:      payload,
		SessionID: sessionID,
		AgentKind: e.AgentKind,
		Timestamp: e.Timestamp,
		EventID:   e.EventID,
	}, nil
}

// DecodeMessage parses a frame's Data as MessageData. The caller is
// expected to have already run ValidateClientFrame.
func DecodeMessage(f Frame) (MessageData, error) {
	var m MessageData
	err := json.Unmarshal(f.Data, &m)
	return m, err
}

// DecodeVoice parses a frame's Data as VoiceData.
func DecodeVoice(f Frame) (VoiceData, error) {
	var v VoiceData
	err := json.Unmarshal(f.Data, &v)
	return v, err
}

// DecodeResume parses a frame's Data as ResumeData.
func DecodeResume(f Frame) (ResumeData, error) {
	var r ResumeData
	err := json.Unmarshal(f.Data, &r)
	return r, err
}
