package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/pion/webrtc/v4"
)

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, in := range []string{``, `{`, `[]`, `{"room":"r1"}`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", in, err)
		}
	}
}

func TestDecodeMutation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    core.Mutation
		wantErr bool
	}{
		{
			name: "document",
			in:   `{"type":"document-change","room":"r1","payload":{"text":"x=1"}}`,
			want: core.Mutation{Kind: core.KindDocument, Text: "x=1"},
		},
		{
			name: "empty document is valid",
			in:   `{"type":"document-change","payload":{"text":""}}`,
			want: core.Mutation{Kind: core.KindDocument},
		},
		{
			name: "mode",
			in:   `{"type":"mode-change","payload":{"mode":"cpp"}}`,
			want: core.Mutation{Kind: core.KindMode, Mode: domain.LanguageCPP},
		},
		{
			name:    "unknown mode",
			in:      `{"type":"mode-change","payload":{"mode":"cobol"}}`,
			wantErr: true,
		},
		{
			name:    "missing payload",
			in:      `{"type":"input-change"}`,
			wantErr: true,
		},
		{
			name:    "wrong payload type",
			in:      `{"type":"output-change","payload":{"text":5}}`,
			wantErr: true,
		},
		{
			name:    "bad canvas element",
			in:      `{"type":"canvas-update","payload":{"elements":[{"tool":"laser"}]}}`,
			wantErr: true,
		},
		{
			name: "canvas message",
			in:   `{"type":"canvas-message","payload":{"text":"hi","name":"ann"}}`,
			want: core.Mutation{Kind: core.KindCanvasMessage, Message: domain.CanvasMessage{Text: "hi", DisplayName: "ann"}},
		},
		{
			name:    "not a mutation",
			in:      `{"type":"join","payload":{}}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeMutation(env)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Kind != tt.want.Kind || got.Text != tt.want.Text || got.Mode != tt.want.Mode || got.Message != tt.want.Message {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEncodeMutationEmptyCanvasIsArray(t *testing.T) {
	f, err := EncodeMutation("r1", core.Mutation{Kind: core.KindCanvasUpdate})
	if err != nil {
		t.Fatal(err)
	}
	env, _ := Decode(f)
	if env.Type != TypeCanvasUpdate || env.Room != "r1" {
		t.Errorf("envelope = %+v", env)
	}
	if string(env.Payload) != `{"elements":[]}` {
		t.Errorf("payload = %s", env.Payload)
	}
}

func TestJoinPushOrder(t *testing.T) {
	s := domain.NewRoomState()
	s.Document = "doc"
	s.Stdin = "in"
	s.LastOutput = "out"
	s.Language = domain.LanguagePython

	members := []core.MemberDTO{{ParticipantID: "p1", Username: "ann"}}
	frames, err := JoinPush("r1", "p1")(s, members)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{TypeDocumentLoad, TypeInputChange, TypeOutputChange, TypeModeChange, TypeCanvasLoad, TypeJoined}
	if len(frames) != len(want) {
		t.Fatalf("frames = %d, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		env, _ := Decode(f)
		if env.Type != want[i] {
			t.Errorf("frame %d type = %s, want %s", i, env.Type, want[i])
		}
	}
	var mode ModePayload
	env, _ := Decode(frames[3])
	if err := env.Bind(&mode); err != nil || mode.Mode != domain.LanguagePython {
		t.Errorf("mode = %+v, %v", mode, err)
	}
	var joined JoinedPayload
	env, _ = Decode(frames[5])
	if err := env.Bind(&joined); err != nil || joined.ParticipantID != "p1" || len(joined.Members) != 1 {
		t.Errorf("joined = %+v, %v", joined, err)
	}
}

func TestFullSyncPayloadRoundTrip(t *testing.T) {
	in := `{"type":"full-sync","payload":{"target":"p2","document":"d","language":"c"}}`
	env, _ := Decode([]byte(in))
	var p FullSyncPayload
	if err := env.Bind(&p); err != nil {
		t.Fatal(err)
	}
	if p.Target != "p2" || p.Document == nil || *p.Document != "d" || p.Stdin != nil {
		t.Fatalf("payload = %+v", p)
	}
	if p.Language == nil || *p.Language != domain.LanguageC {
		t.Errorf("language = %v", p.Language)
	}

	frames, err := FullState("r1")(domain.RoomState{Document: "d", Language: domain.LanguageC})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	env, _ = Decode(frames[0])
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["canvas"].([]any); !ok {
		t.Errorf("canvas = %v, want array", out["canvas"])
	}
}

const minimalSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name string
		p    SignalPayload
		ok   bool
	}{
		{"offer", SignalPayload{Target: "p2", Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: minimalSDP}}, true},
		{"candidate", SignalPayload{Target: "p2", Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}, true},
		{"no target", SignalPayload{Candidate: &webrtc.ICECandidateInit{Candidate: "c"}}, false},
		{"neither", SignalPayload{Target: "p2"}, false},
		{"garbage sdp", SignalPayload{Target: "p2", Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "nope"}}, false},
		{"unknown type", SignalPayload{Target: "p2", Description: &webrtc.SessionDescription{SDP: minimalSDP}}, false},
		{"empty candidate", SignalPayload{Target: "p2", Candidate: &webrtc.ICECandidateInit{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrBadSignal) {
				t.Errorf("err = %v, want ErrBadSignal", err)
			}
		})
	}
}
