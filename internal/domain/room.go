package domain

import (
	"errors"
	"fmt"
)

// RoomID is externally supplied and opaque.
type RoomID string

var ErrEmptyRoomID = errors.New("empty room id")

func (id RoomID) Validate() error {
	if id == "" {
		return ErrEmptyRoomID
	}
	return nil
}

type Room struct {
	ID RoomID
}

// Language is the editor mode selected for a room.
type Language string

const (
	LanguageJava       Language = "java"
	LanguagePython     Language = "python"
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
	LanguageJavaScript Language = "javascript"
)

var ErrUnknownLanguage = errors.New("unknown language")

func Languages() []Language {
	return []Language{LanguageJava, LanguagePython, LanguageC, LanguageCPP, LanguageJavaScript}
}

func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	if err := l.Validate(); err != nil {
		return "", err
	}
	return l, nil
}

func (l Language) Validate() error {
	switch l {
	case LanguageJava, LanguagePython, LanguageC, LanguageCPP, LanguageJavaScript:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownLanguage, string(l))
}
