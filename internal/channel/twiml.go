package channel

import (
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// RenderTwiML wraps text in a messaging TwiML response with one Message.
func RenderTwiML(text string) (string, error) {
	return twiml.Messages([]twiml.Element{
		&twiml.MessagingMessage{Body: text},
	})
}

// writeTwiML always writes a well-formed envelope, falling back to a
// hand-built document if the library fails.
func writeTwiML(w http.ResponseWriter, text string) {
	body, err := RenderTwiML(text)
	if err != nil || body == "" {
		body = minimalTwiML(text)
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

func minimalTwiML(text string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response><Message>")
	xml.EscapeText(&b, []byte(text))
	b.WriteString("</Message></Response>")
	return b.String()
}
