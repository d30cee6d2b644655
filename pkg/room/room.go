// Package room derives stable room identifiers from the pair of
// (current user, selected channel or direct peer).
package room

import "strings"

const (
	channelPrefix = "channel-"
	dmPrefix      = "dm-"
	dmSeparator   = "-"
)

// Selection is the target of the transcript view: exactly one of ChannelID
// or DMPeerID is set. Setting one clears the other.
type Selection struct {
	ChannelID string
	DMPeerID  string
}

func (s *Selection) SetChannel(channelID string) {
	s.ChannelID = channelID
	s.DMPeerID = ""
}

func (s *Selection) SetDMPeer(peerID string) {
	s.DMPeerID = peerID
	s.ChannelID = ""
}

// IsZero reports whether nothing is selected yet.
func (s Selection) IsZero() bool {
	return s.ChannelID == "" && s.DMPeerID == ""
}

// Resolve computes the room id for the selection. The DM id sorts the two
// participant ids so both peers compute the identical string without a
// handshake. ok is false when nothing is selected.
func Resolve(selfID string, sel Selection) (roomID string, ok bool) {
	switch {
	case sel.ChannelID != "":
		return ChannelID(sel.ChannelID), true
	case sel.DMPeerID != "":
		return DMID(selfID, sel.DMPeerID), true
	default:
		return "", false
	}
}

// ChannelID returns the room id of a named channel.
func ChannelID(channelID string) string {
	return channelPrefix + channelID
}

// DMID returns the room id of a direct-message pair. The ids are joined in
// lexicographic order, so DMID(a, b) == DMID(b, a).
func DMID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return dmPrefix + a + dmSeparator + b
}

// IsDM reports whether the room id names a direct-message pair.
func IsDM(roomID string) bool {
	return strings.HasPrefix(roomID, dmPrefix)
}

// DMHasParticipant reports whether userID is one of the two sides of a DM
// room id.
func DMHasParticipant(roomID, userID string) bool {
	rest, found := strings.CutPrefix(roomID, dmPrefix)
	if !found || userID == "" {
		return false
	}
	return rest == userID ||
		strings.HasPrefix(rest, userID+dmSeparator) ||
		strings.HasSuffix(rest, dmSeparator+userID)
}

// DMParticipants returns the two user ids of a DM room id. ok is false when
// the id is not a well-formed DM room. User ids must not contain the
// separator themselves.
func DMParticipants(roomID string) (a, b string, ok bool) {
	rest, found := strings.CutPrefix(roomID, dmPrefix)
	if !found {
		return "", "", false
	}
	a, b, found = strings.Cut(rest, dmSeparator)
	if !found || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
