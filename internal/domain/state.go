package domain

// RoomState is the authoritative shared snapshot of one room.
type RoomState struct {
	Document   string          `json:"document"`
	Stdin      string          `json:"stdin"`
	LastOutput string          `json:"output"`
	Language   Language        `json:"language"`
	Canvas     []CanvasElement `json:"canvas"`
}

func NewRoomState() RoomState {
	return RoomState{
		Language: LanguageJava,
		Canvas:   []CanvasElement{},
	}
}

// Clone returns a copy that shares no slices with s.
func (s RoomState) Clone() RoomState {
	s.Canvas = CloneElements(s.Canvas)
	return s
}

// FullSync is a peer supplied aggregate. Nil fields were not sent and
// leave the stored value alone.
type FullSync struct {
	Document   *string   `json:"document,omitempty"`
	Stdin      *string   `json:"stdin,omitempty"`
	LastOutput *string   `json:"output,omitempty"`
	Language   *Language `json:"language,omitempty"`
}

func (fs FullSync) Validate() error {
	if fs.Language != nil {
		return fs.Language.Validate()
	}
	return nil
}

// Merge applies fs field by field. Canvas is never touched.
func (s *RoomState) Merge(fs FullSync) {
	if fs.Document != nil {
		s.Document = *fs.Document
	}
	if fs.Stdin != nil {
		s.Stdin = *fs.Stdin
	}
	if fs.LastOutput != nil {
		s.LastOutput = *fs.LastOutput
	}
	if fs.Language != nil {
		s.Language = *fs.Language
	}
}
