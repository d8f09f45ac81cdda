// Package message provides helpers over the SIP message model of [github.com/emiago/sipgo/sip].
package message

//go:generate go tool errtrace -w .

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Well-known content types and dispositions.
const (
	ContentTypeSDP = "application/sdp"

	DispositionSession = "session"
	DispositionRender  = "render"
)

// Body is a message body together with its content headers.
type Body struct {
	ContentType string
	Content     []byte
	Disposition string
}

// IsSession reports whether the body carries a session description.
func (b *Body) IsSession() bool {
	return b != nil && len(b.Content) > 0 && strings.EqualFold(b.Disposition, DispositionSession)
}

// Clone returns a deep copy of the body.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	b2 := *b
	b2.Content = append([]byte(nil), b.Content...)
	return &b2
}

// GetBody returns the body of the message or nil when the message has no body.
// Missing disposition defaults to "session" for SDP and "render" otherwise.
func GetBody(msg sip.Message) *Body {
	if msg == nil {
		return nil
	}
	content := msg.Body()
	if len(content) == 0 {
		return nil
	}

	b := &Body{
		ContentType: MediaType(HeaderValue(msg, "Content-Type")),
		Content:     content,
		Disposition: dispositionType(HeaderValue(msg, "Content-Disposition")),
	}
	if b.Disposition == "" {
		if strings.EqualFold(b.ContentType, ContentTypeSDP) {
			b.Disposition = DispositionSession
		} else {
			b.Disposition = DispositionRender
		}
	}
	return b
}

// IsSessionBody reports whether the message carries a session description.
func IsSessionBody(msg sip.Message) bool {
	return GetBody(msg).IsSession()
}

// SetBody writes the body and its content headers to the message.
// Nil body clears the body and the content headers.
func SetBody(msg sip.Message, b *Body) {
	RemoveHeader(msg, "Content-Type")
	RemoveHeader(msg, "Content-Disposition")
	if b == nil || len(b.Content) == 0 {
		msg.SetBody(nil)
		return
	}

	if b.ContentType != "" {
		ct := sip.ContentTypeHeader(b.ContentType)
		msg.AppendHeader(&ct)
	}
	if b.Disposition != "" {
		msg.AppendHeader(sip.NewHeader("Content-Disposition", b.Disposition))
	}
	msg.SetBody(b.Content)
}

// RemoveHeader removes all headers with the given name.
func RemoveHeader(msg sip.Message, name string) {
	n := len(msg.GetHeaders(name))
	switch m := msg.(type) {
	case *sip.Request:
		for range n {
			m.RemoveHeader(name)
		}
	case *sip.Response:
		for range n {
			m.RemoveHeader(name)
		}
	}
}

// MediaType returns the lower-cased media type of the Content-Type value without parameters.
func MediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func dispositionType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// HeaderValue returns the value of the first header with the given name or empty string.
func HeaderValue(msg sip.Message, name string) string {
	if msg == nil {
		return ""
	}
	hdrs := msg.GetHeaders(name)
	if len(hdrs) == 0 {
		return ""
	}
	return strings.TrimSpace(hdrs[0].Value())
}

// HeaderValues returns the comma-separated values of all headers with the given name.
func HeaderValues(msg sip.Message, name string) []string {
	if msg == nil {
		return nil
	}
	var vals []string
	for _, h := range msg.GetHeaders(name) {
		for v := range strings.SplitSeq(h.Value(), ",") {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
	}
	return vals
}
