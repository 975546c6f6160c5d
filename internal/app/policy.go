package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/coderoom/internal/core"
)

var ErrNoSession = errors.New("no session")

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue overflowed.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

// SimplePolicy kicks every slow member.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy keeps slow members and lets them miss frames.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the backpressure_policy setting to a Policy: "kick"
// or "drop".
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "kick", "":
		return SimplePolicy{}, nil
	case "drop":
		return TolerantPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
