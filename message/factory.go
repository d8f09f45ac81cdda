package message

import (
	"github.com/emiago/sipgo/sip"
)

// DefaultMaxForwards is the Max-Forwards value of new requests.
const DefaultMaxForwards = 70

// ViaParams describes the sent-by part of a Via header.
type ViaParams struct {
	Transport string
	Host      string
	Port      int
	Branch    string
}

// Header returns the Via header. Empty branch is replaced with a new one.
func (p ViaParams) Header() *sip.ViaHeader {
	branch := p.Branch
	if branch == "" {
		branch = NewBranch()
	}
	tp := p.Transport
	if tp == "" {
		tp = "UDP"
	}
	return &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       tp,
		Host:            p.Host,
		Port:            p.Port,
		Params:          sip.HeaderParams{"branch": branch},
	}
}

// RequestParams describes a request built by [NewRequest].
type RequestParams struct {
	Method      sip.RequestMethod
	RequestURI  sip.Uri
	CallID      string
	From        sip.Uri
	FromName    string
	FromTag     string
	To          sip.Uri
	ToName      string
	ToTag       string
	CSeq        uint32
	Via         ViaParams
	Contact     *sip.Uri
	RouteSet    []sip.Uri
	MaxForwards int
	Headers     []sip.Header
	Body        *Body
}

// NewRequest builds a request with typed mandatory headers.
func NewRequest(p RequestParams) *sip.Request {
	req := sip.NewRequest(p.Method, p.RequestURI)
	req.AppendHeader(p.Via.Header())

	from := &sip.FromHeader{DisplayName: p.FromName, Address: p.From, Params: sip.HeaderParams{}}
	if p.FromTag != "" {
		from.Params["tag"] = p.FromTag
	}
	req.AppendHeader(from)

	to := &sip.ToHeader{DisplayName: p.ToName, Address: p.To, Params: sip.HeaderParams{}}
	if p.ToTag != "" {
		to.Params["tag"] = p.ToTag
	}
	req.AppendHeader(to)

	cid := sip.CallIDHeader(p.CallID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: p.CSeq, MethodName: p.Method})

	mf := p.MaxForwards
	if mf <= 0 {
		mf = DefaultMaxForwards
	}
	mfh := sip.MaxForwardsHeader(mf)
	req.AppendHeader(&mfh)

	for _, r := range p.RouteSet {
		req.AppendHeader(&sip.RouteHeader{Address: r})
	}
	if p.Contact != nil {
		req.AppendHeader(&sip.ContactHeader{Address: *p.Contact})
	}
	for _, h := range p.Headers {
		req.AppendHeader(h)
	}
	SetBody(req, p.Body)
	return req
}

// ResponseParams describes extra parts of a response built by [NewResponse].
type ResponseParams struct {
	ToTag   string
	Contact *sip.Uri
	Headers []sip.Header
	Body    *Body
}

// NewResponse builds a response to the request.
// Empty reason is replaced with the default reason phrase.
// The To-tag is stamped only if the request's To has no tag.
func NewResponse(req *sip.Request, code int, reason string, p ResponseParams) *sip.Response {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	res := sip.NewResponseFromRequest(req, code, reason, nil)

	if p.ToTag != "" && code > StatusTrying {
		if to := req.To(); to != nil && to.Params["tag"] == "" {
			params := sip.HeaderParams{}
			for k, v := range to.Params {
				params[k] = v
			}
			params["tag"] = p.ToTag
			res.ReplaceHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: params})
		}
	}
	if p.Contact != nil {
		res.AppendHeader(&sip.ContactHeader{Address: *p.Contact})
	}
	for _, h := range p.Headers {
		res.AppendHeader(h)
	}
	SetBody(res, p.Body)
	return res
}

// NewCancel builds a CANCEL for the INVITE (RFC 3261 Section 9.1).
func NewCancel(invite *sip.Request) *sip.Request {
	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	copyCommon(invite, req)
	if to := invite.To(); to != nil {
		req.AppendHeader(sip.HeaderClone(to))
	}
	appendCSeqMf(invite, req, sip.CANCEL)
	return req
}

// NewNon2xxAck builds an ACK for a non-2xx final response (RFC 3261 Section 17.1.1.3).
func NewNon2xxAck(invite *sip.Request, res *sip.Response) *sip.Request {
	req := sip.NewRequest(sip.ACK, invite.Recipient)
	copyCommon(invite, req)
	if to := res.To(); to != nil {
		req.AppendHeader(sip.HeaderClone(to))
	}
	appendCSeqMf(invite, req, sip.ACK)
	return req
}

func copyCommon(src, dst *sip.Request) {
	if via := src.Via(); via != nil {
		dst.AppendHeader(sip.HeaderClone(via))
	}
	if from := src.From(); from != nil {
		dst.AppendHeader(sip.HeaderClone(from))
	}
	if cid := src.CallID(); cid != nil {
		dst.AppendHeader(sip.HeaderClone(cid))
	}
}

func appendCSeqMf(src, dst *sip.Request, method sip.RequestMethod) {
	seq, _ := CSeq(src)
	dst.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	mf := sip.MaxForwardsHeader(DefaultMaxForwards)
	dst.AppendHeader(&mf)
	for _, r := range src.GetHeaders("Route") {
		dst.AppendHeader(sip.HeaderClone(r))
	}
}
