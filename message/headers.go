package message

import (
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/util"
)

// OptionTag100rel is the option tag of reliable provisional responses (RFC 3262).
const OptionTag100rel = "100rel"

// HasOptionTag reports whether the comma list in the header contains the option tag.
func HasOptionTag(msg sip.Message, header, tag string) bool {
	for _, v := range HeaderValues(msg, header) {
		if util.EqFold(v, tag) {
			return true
		}
	}
	return false
}

// OptionTags returns the option tags listed in the header.
func OptionTags(msg sip.Message, header string) []string {
	vals := HeaderValues(msg, header)
	for i := range vals {
		vals[i] = util.LCase(vals[i])
	}
	return vals
}

// RSeq returns the value of the RSeq header.
func RSeq(msg sip.Message) (uint32, bool) {
	v := HeaderValue(msg, "RSeq")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// RSeqHeader returns a new RSeq header.
func RSeqHeader(rseq uint32) sip.Header {
	return sip.NewHeader("RSeq", strconv.FormatUint(uint64(rseq), 10))
}

// RAckValue is the value of the RAck header.
type RAckValue struct {
	RSeq   uint32
	CSeq   uint32
	Method sip.RequestMethod
}

func (v RAckValue) String() string {
	return fmt.Sprintf("%d %d %s", v.RSeq, v.CSeq, v.Method)
}

// Header returns the value as RAck header.
func (v RAckValue) Header() sip.Header {
	return sip.NewHeader("RAck", v.String())
}

// ParseRAck parses the RAck header value.
func ParseRAck(s string) (RAckValue, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return RAckValue{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed RAck %q", s))
	}
	rseq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return RAckValue{}, errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
	}
	cseq, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RAckValue{}, errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
	}
	return RAckValue{
		RSeq:   uint32(rseq),
		CSeq:   uint32(cseq),
		Method: sip.RequestMethod(util.UCase(parts[2])),
	}, nil
}

// RAck returns the value of the RAck header.
func RAck(msg sip.Message) (RAckValue, bool) {
	v := HeaderValue(msg, "RAck")
	if v == "" {
		return RAckValue{}, false
	}
	rack, err := ParseRAck(v)
	if err != nil {
		return RAckValue{}, false
	}
	return rack, true
}

// ReasonHeader returns a Reason header with SIP protocol cause.
func ReasonHeader(code int, text string) sip.Header {
	v := "SIP ;cause=" + strconv.Itoa(code)
	if text != "" {
		v += " ;text=" + strconv.Quote(text)
	}
	return sip.NewHeader("Reason", v)
}

// ParseAddrURI parses URIs of a name-addr / addr-spec list value,
// like Contact, Route or Record-Route.
func ParseAddrURI(v string) ([]sip.Uri, error) {
	var uris []sip.Uri
	for _, el := range splitAddrList(v) {
		s := el
		if i := strings.IndexByte(s, '<'); i >= 0 {
			j := strings.IndexByte(s[i:], '>')
			if j < 0 {
				return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed address %q", el))
			}
			s = s[i+1 : i+j]
		} else if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[:i]
		}

		var u sip.Uri
		if err := sip.ParseUri(strings.TrimSpace(s), &u); err != nil {
			return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
		}
		uris = append(uris, u)
	}
	return uris, nil
}

func splitAddrList(v string) []string {
	var (
		out            []string
		start          int
		inAngle, inQuo bool
	)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case c == '"' && !inAngle:
			inQuo = !inQuo
		case c == '<' && !inQuo:
			inAngle = true
		case c == '>' && !inQuo:
			inAngle = false
		case c == ',' && !inAngle && !inQuo:
			if s := strings.TrimSpace(v[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(v[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// HeaderURIs returns URIs of all headers with the given name in order of appearance.
func HeaderURIs(msg sip.Message, name string) []sip.Uri {
	if msg == nil {
		return nil
	}
	var uris []sip.Uri
	for _, h := range msg.GetHeaders(name) {
		us, err := ParseAddrURI(h.Value())
		if err != nil {
			continue
		}
		uris = append(uris, us...)
	}
	return uris
}

// ContactURI returns URI of the first Contact header.
func ContactURI(msg sip.Message) (sip.Uri, bool) {
	uris := HeaderURIs(msg, "Contact")
	if len(uris) == 0 {
		return sip.Uri{}, false
	}
	return uris[0], true
}

// PAssertedIdentity returns the URI of the first P-Asserted-Identity header.
func PAssertedIdentity(msg sip.Message) (*sip.Uri, bool) {
	uris := HeaderURIs(msg, "P-Asserted-Identity")
	if len(uris) == 0 {
		return nil, false
	}
	return &uris[0], true
}

// Expires returns the value of the Expires header in seconds.
func Expires(msg sip.Message) (uint32, bool) {
	v := HeaderValue(msg, "Expires")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
