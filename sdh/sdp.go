package sdh

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/pion/sdp/v3"

	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

// Codec is an RTP payload format.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
}

func (c Codec) rtpmap() string {
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
}

var (
	CodecPCMU = Codec{0, "PCMU", 8000}
	CodecPCMA = Codec{8, "PCMA", 8000}
)

// DefaultCodecs are offered when [SDPOptions.Codecs] is empty.
var DefaultCodecs = []Codec{CodecPCMU, CodecPCMA}

// DTMFHandler is called for each tone passed to [SDP.SendDTMF].
type DTMFHandler = func(tone rune, duration time.Duration)

// SDPOptions configure the [SDP] handler.
type SDPOptions struct {
	// Codecs in order of preference, [DefaultCodecs] when empty.
	Codecs []Codec
	// Address of the local media, 127.0.0.1 when empty.
	Address string
	// Port of the local media, 40000 when zero.
	Port int
	// Username of the o= line, "-" when empty.
	Username string
	// OnDTMF receives accepted DTMF tones.
	OnDTMF DTMFHandler
	Log    *slog.Logger
}

func (o *SDPOptions) codecs() []Codec {
	if o == nil || len(o.Codecs) == 0 {
		return DefaultCodecs
	}
	return o.Codecs
}

func (o *SDPOptions) address() string {
	if o == nil || o.Address == "" {
		return "127.0.0.1"
	}
	return o.Address
}

func (o *SDPOptions) port() int {
	if o == nil || o.Port == 0 {
		return 40000
	}
	return o.Port
}

func (o *SDPOptions) username() string {
	if o == nil || o.Username == "" {
		return "-"
	}
	return o.Username
}

func (o *SDPOptions) onDTMF() DTMFHandler {
	if o == nil {
		return nil
	}
	return o.OnDTMF
}

func (o *SDPOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// SDP is a [Handler] exchanging audio SDP (RFC 4566) descriptions in the offer/answer model (RFC 3264).
// It only negotiates codecs, media transport is left to the application.
type SDP struct {
	opts *SDPOptions
	info Info

	mu          sync.Mutex
	sessID      uint64
	sessVer     uint64
	local       *sdp.SessionDescription
	remote      *sdp.SessionDescription
	localOffer  bool
	remoteOffer bool
	negotiated  []Codec
	closed      bool
}

// NewSDP creates an SDP handler.
func NewSDP(info Info, opts *SDPOptions) *SDP {
	return &SDP{
		opts:   opts,
		info:   info,
		sessID: uint64(time.Now().UnixNano()),
	}
}

// NewSDPFactory returns a [Factory] producing [SDP] handlers with the options.
func NewSDPFactory(opts *SDPOptions) Factory {
	return func(_ context.Context, info Info) (Handler, error) {
		return NewSDP(info, opts), nil
	}
}

// LogValue implements [slog.LogValuer].
func (h *SDP) LogValue() slog.Value {
	if h == nil {
		return slog.Value{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return slog.GroupValue(
		slog.String("session", h.info.SessionID),
		slog.Bool("local_offer", h.localOffer),
		slog.Bool("remote_offer", h.remoteOffer),
		slog.Bool("closed", h.closed),
	)
}

// Local returns the last local description.
func (h *SDP) Local() *sdp.SessionDescription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.local
}

// Remote returns the last remote description.
func (h *SDP) Remote() *sdp.SessionDescription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remote
}

// Negotiated returns the codecs both sides agreed on.
func (h *SDP) Negotiated() []Codec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.negotiated)
}

// GetDescription implements [Handler].
// It answers the pending remote offer, otherwise it produces a new offer.
func (h *SDP) GetDescription(ctx context.Context, opts *Options, mods ...Modifier) (*message.Body, error) {
	if err := ctx.Err(); err != nil {
		return nil, errtrace.Wrap(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errtrace.Wrap(ErrHandlerClosed)
	}

	codecs := h.opts.codecs()
	answer := h.remoteOffer
	if answer {
		codecs = h.negotiated
	}
	sd := h.build(codecs, opts != nil && opts.Hold)
	for _, mod := range mods {
		if err := mod(sd); err != nil {
			return nil, errtrace.Wrap(err)
		}
	}
	raw, err := sd.Marshal()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	h.local = sd
	if answer {
		h.remoteOffer = false
	} else {
		h.localOffer = true
	}

	h.opts.log().LogAttrs(ctx, slog.LevelDebug, "local description created",
		slog.String("session", h.info.SessionID),
		slog.Bool("answer", answer),
	)

	return &message.Body{
		ContentType: message.ContentTypeSDP,
		Content:     raw,
		Disposition: message.DispositionSession,
	}, nil
}

func (h *SDP) build(codecs []Codec, hold bool) *sdp.SessionDescription {
	h.sessVer++
	addr := h.opts.address()

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: h.opts.port()},
			Protos: []string{"RTP", "AVP"},
		},
	}
	for _, c := range codecs {
		md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(c.PayloadType)))
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: c.rtpmap()})
	}
	dir := "sendrecv"
	if hold {
		dir = "sendonly"
	}
	md.Attributes = append(md.Attributes, sdp.Attribute{Key: dir})

	return &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       h.opts.username(),
			SessionID:      h.sessID,
			SessionVersion: h.sessVer,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions:  []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{md},
	}
}

// SetDescription implements [Handler].
// The body answers the outstanding local offer, otherwise it is a remote offer.
func (h *SDP) SetDescription(ctx context.Context, body *message.Body, _ *Options, mods ...Modifier) error {
	if err := ctx.Err(); err != nil {
		return errtrace.Wrap(err)
	}
	if body == nil || !h.HasDescription(body.ContentType) {
		return errtrace.Wrap(ErrUnsupportedContentType)
	}

	sd := new(sdp.SessionDescription)
	if err := sd.Unmarshal(body.Content); err != nil {
		return errtrace.Wrap(fmt.Errorf("%w: %w", ErrInvalidDescription, err))
	}
	for _, mod := range mods {
		if err := mod(sd); err != nil {
			return errtrace.Wrap(err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errtrace.Wrap(ErrHandlerClosed)
	}

	common, err := commonCodecs(sd, h.opts.codecs())
	if err != nil {
		return errtrace.Wrap(err)
	}

	answer := h.localOffer
	h.remote = sd
	h.negotiated = common
	if answer {
		h.localOffer = false
	} else {
		h.remoteOffer = true
	}

	h.opts.log().LogAttrs(ctx, slog.LevelDebug, "remote description applied",
		slog.String("session", h.info.SessionID),
		slog.Bool("answer", answer),
		slog.Int("codecs", len(common)),
	)
	return nil
}

// commonCodecs returns the local codecs present in the first audio m-line, in remote order.
func commonCodecs(sd *sdp.SessionDescription, local []Codec) ([]Codec, error) {
	idx := slices.IndexFunc(sd.MediaDescriptions, func(md *sdp.MediaDescription) bool {
		return md.MediaName.Media == "audio" && md.MediaName.Port.Value != 0
	})
	if idx < 0 {
		return nil, errtrace.Wrap(fmt.Errorf("%w: no active audio stream", ErrInvalidDescription))
	}
	md := sd.MediaDescriptions[idx]

	rtpmaps := make(map[uint8]string)
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		pt, enc, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(pt, 10, 8)
		if err != nil {
			continue
		}
		rtpmaps[uint8(n)] = enc
	}

	var common []Codec
	for _, f := range md.MediaName.Formats {
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		pt := uint8(n)
		for _, c := range local {
			if matchCodec(c, pt, rtpmaps[pt]) {
				common = append(common, Codec{pt, c.Name, c.ClockRate})
				break
			}
		}
	}
	if len(common) == 0 {
		return nil, errtrace.Wrap(ErrNoCommonCodec)
	}
	return common, nil
}

func matchCodec(c Codec, pt uint8, enc string) bool {
	if enc == "" {
		// static payload types may come without rtpmap (RFC 3551)
		return pt < 96 && c.PayloadType == pt
	}
	name, rate, _ := strings.Cut(enc, "/")
	if r, _, ok := strings.Cut(rate, "/"); ok {
		rate = r
	}
	return strings.EqualFold(name, c.Name) && rate == strconv.FormatUint(uint64(c.ClockRate), 10)
}

// HasDescription implements [Handler].
func (*SDP) HasDescription(contentType string) bool {
	return strings.EqualFold(message.MediaType(contentType), message.ContentTypeSDP)
}

// SendDTMF implements [Handler].
// Valid tones are 0-9, A-D, * and #, comma is a two second pause.
// Accepted tones are passed to [SDPOptions.OnDTMF] one by one.
func (h *SDP) SendDTMF(tones string, opts *DTMFOptions) bool {
	tones = strings.ToUpper(tones)
	if !ValidDTMF(tones) {
		return false
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return false
	}

	h.opts.log().LogAttrs(context.Background(), slog.LevelDebug, "sending DTMF",
		slog.String("session", h.info.SessionID),
		slog.String("tones", tones),
		slog.Any("options", opts),
	)

	if fn := h.opts.onDTMF(); fn != nil {
		for _, t := range tones {
			fn(t, opts.duration())
		}
	}
	return true
}

// ValidDTMF reports whether the tones contain only DTMF symbols and pauses.
func ValidDTMF(tones string) bool {
	if tones == "" {
		return false
	}
	for _, r := range tones {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'D', r >= 'a' && r <= 'd', r == '*', r == '#', r == ',':
		default:
			return false
		}
	}
	return true
}

// Close implements [Handler].
func (h *SDP) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.localOffer, h.remoteOffer = false, false

	h.opts.log().LogAttrs(context.Background(), slog.LevelDebug, "session description handler closed",
		slog.String("session", h.info.SessionID),
	)
}
