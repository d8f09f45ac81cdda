package message

import (
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/ghettovoice/sipua/internal/util"
)

// MagicCookie is the RFC 3261 branch prefix.
const MagicCookie = "z9hG4bK"

// FromTag returns the tag parameter of the From header.
func FromTag(msg sip.Message) string {
	if msg == nil {
		return ""
	}
	if h := msg.From(); h != nil {
		return h.Params["tag"]
	}
	return ""
}

// ToTag returns the tag parameter of the To header.
func ToTag(msg sip.Message) string {
	if msg == nil {
		return ""
	}
	if h := msg.To(); h != nil {
		return h.Params["tag"]
	}
	return ""
}

// CallID returns the Call-ID header value.
func CallID(msg sip.Message) string {
	if msg == nil {
		return ""
	}
	if h := msg.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

// CSeq returns the sequence number and method of the CSeq header.
func CSeq(msg sip.Message) (uint32, sip.RequestMethod) {
	if msg == nil {
		return 0, ""
	}
	if h := msg.CSeq(); h != nil {
		return h.SeqNo, h.MethodName
	}
	return 0, ""
}

// Branch returns the branch parameter of the top Via header.
func Branch(msg sip.Message) string {
	if msg == nil {
		return ""
	}
	if h := msg.Via(); h != nil {
		return h.Params["branch"]
	}
	return ""
}

// NewTag returns a random From/To tag.
func NewTag() string { return util.RandStringLC(10) }

// NewBranch returns a random branch with the RFC 3261 magic cookie.
func NewBranch() string { return MagicCookie + "." + util.RandString(16) }

// NewCallID returns a random Call-ID.
func NewCallID(host string) string {
	id := uuid.NewString()
	if host != "" {
		id += "@" + host
	}
	return id
}
