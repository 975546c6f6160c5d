package domain

// Member is a user's participation in one room. PeerID is the
// participant id announced to the other members; media layers key their
// peer connections on it.
type Member struct {
	User   *User
	PeerID string
}

func NewMember(user *User, peerID string) *Member {
	return &Member{User: user, PeerID: peerID}
}
