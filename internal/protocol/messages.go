// Package protocol defines the JSON frames exchanged over the room
// websocket. Every frame is an Envelope; Payload depends on Type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
)

const (
	// client -> server
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypePing     = "ping"
	TypeRename   = "rename"
	TypeWhoAmI   = "whoami"
	TypeFullSync = "full-sync"
	TypeRun      = "run"
	TypeSignal   = "signal"

	// server -> client
	TypeJoined            = "joined"
	TypeLeft              = "left"
	TypePong              = "pong"
	TypeDocumentLoad      = "document-load"
	TypeCanvasLoad        = "canvas-load"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeExecResult        = "exec-result"
	TypeError             = "error"

	TypeDocumentChange = string(core.KindDocument)
	TypeInputChange    = string(core.KindInput)
	TypeOutputChange   = string(core.KindOutput)
	TypeModeChange     = string(core.KindMode)
	TypeCanvasUpdate   = string(core.KindCanvasUpdate)
	TypeCanvasMessage  = string(core.KindCanvasMessage)
)

// Error codes carried by TypeError frames.
const (
	CodeBadPayload      = "bad_payload"
	CodeUnknownType     = "unknown_type"
	CodeNotInRoom       = "not_in_room"
	CodeInvalidName     = "invalid_name"
	CodeRateLimited     = "rate_limited"
	CodeExecution       = "execution_failed"
	CodeUnknownPeer     = "unknown_peer"
	CodeExecUnsupported = "unsupported_language"
	CodeExecBusy        = "execution_in_progress"
	CodePeerTaken       = "participant_taken"
)

var (
	ErrMissingPayload = errors.New("missing payload")
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
)

type Envelope struct {
	Type string `json:"type"`
	// ID is set by the client on requests and echoed on the reply and on
	// any error frame the request caused.
	ID      string          `json:"id,omitempty"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: empty type", ErrMalformed)
	}
	return env, nil
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

func Encode(typ string, room domain.RoomID, payload any) (core.Frame, error) {
	return EncodeReply("", typ, room, payload)
}

// EncodeReply is Encode for a frame tagged with a request id.
func EncodeReply(id, typ string, room domain.RoomID, payload any) (core.Frame, error) {
	env := Envelope{Type: typ, ID: id, Room: string(room)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

type JoinPayload struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Name          string `json:"name,omitempty"`
}

type JoinedPayload struct {
	ParticipantID string           `json:"participant_id"`
	Members       []core.MemberDTO `json:"members"`
}

type ParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

type RenamePayload struct {
	Name string `json:"name"`
}

type WhoAmIPayload struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Username      string `json:"username"`
	Room          string `json:"room,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ModePayload struct {
	Mode domain.Language `json:"mode"`
}

type CanvasPayload struct {
	Elements []domain.CanvasElement `json:"elements"`
}

type CanvasMessagePayload struct {
	Text string `json:"text"`
	Name string `json:"name,omitempty"`
}

// FullSyncPayload is what a peer sends; Target is the newcomer.
type FullSyncPayload struct {
	Target string `json:"target,omitempty"`
	domain.FullSync
}

// FullStatePayload is the merged state delivered to the newcomer.
type FullStatePayload struct {
	domain.RoomState
}

type ExecResultPayload struct {
	Output string `json:"output"`
	Signal string `json:"signal,omitempty"`
}

type ErrorPayload struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}
