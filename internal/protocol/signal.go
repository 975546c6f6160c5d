package protocol

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrBadSignal = errors.New("bad signal payload")

// SignalPayload carries peer media negotiation between two members. The
// server only relays it; From is filled in by the server.
type SignalPayload struct {
	Target      string                     `json:"target,omitempty"`
	From        string                     `json:"from,omitempty"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Validate requires a target and exactly one of description or candidate,
// and checks that a description carries parseable SDP.
func (p SignalPayload) Validate() error {
	if p.Target == "" {
		return fmt.Errorf("%w: empty target", ErrBadSignal)
	}
	if (p.Description == nil) == (p.Candidate == nil) {
		return fmt.Errorf("%w: need exactly one of description or candidate", ErrBadSignal)
	}
	if d := p.Description; d != nil {
		switch d.Type {
		case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
			if _, err := d.Unmarshal(); err != nil {
				return fmt.Errorf("%w: sdp: %v", ErrBadSignal, err)
			}
		case webrtc.SDPTypeRollback:
		default:
			return fmt.Errorf("%w: sdp type %q", ErrBadSignal, d.Type.String())
		}
	}
	if c := p.Candidate; c != nil && c.Candidate == "" {
		return fmt.Errorf("%w: empty candidate", ErrBadSignal)
	}
	return nil
}
