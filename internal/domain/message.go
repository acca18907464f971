package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// InboundMessage is one webhook delivery from the messaging gateway, parsed
// and defaulted once at ingress.
type InboundMessage struct {
	MessageSID  string
	From        string // sender address, logged only
	To          string
	Body        string // trimmed, may be empty
	Attachments []AttachmentRef
	ReceivedAt  time.Time
}

// ImageAttachments returns the attachments eligible for vision processing,
// preserving their original order.
func (m InboundMessage) ImageAttachments() []AttachmentRef {
	var out []AttachmentRef
	for _, a := range m.Attachments {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}

// AttachmentRef points at a media file hosted by the gateway.
type AttachmentRef struct {
	Index       int // position in the webhook (MediaUrl{Index})
	URL         string
	ContentType string // as declared by the gateway, never re-sniffed
}

// IsImage reports whether the declared content type is image/*.
func (a AttachmentRef) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.ContentType)), "image/")
}

// MIMEType returns the declared content type without parameters.
func (a AttachmentRef) MIMEType() string {
	ct := a.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// InlineImage is an attachment re-encoded for direct inclusion in a
// completion request. It lives for a single request.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

func (i InlineImage) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI renders the image as data:<mime>;base64,<payload>.
func (i InlineImage) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}
