package channel

import (
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"
)

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

func parseTwiML(t *testing.T, body string) twimlResponse {
	t.Helper()
	var resp twimlResponse
	if err := xml.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("reply is not well-formed TwiML: %v\n%s", err, body)
	}
	return resp
}

func TestRenderTwiML_SingleMessage(t *testing.T) {
	body, err := RenderTwiML("¡Hola! Tenemos el Redondo 60cm a $45000.")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	resp := parseTwiML(t, body)
	if len(resp.Messages) != 1 || resp.Messages[0] != "¡Hola! Tenemos el Redondo 60cm a $45000." {
		t.Fatalf("unexpected messages %q", resp.Messages)
	}
}

func TestRenderTwiML_EscapesMarkup(t *testing.T) {
	text := `Espejo <Redondo> & "Oval" 50x70`
	body, err := RenderTwiML(text)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "<Redondo>") {
		t.Fatalf("markup was not escaped: %s", body)
	}
	if got := parseTwiML(t, body).Messages[0]; got != text {
		t.Fatalf("expected %q after decoding, got %q", text, got)
	}
}

func TestMinimalTwiML(t *testing.T) {
	text := "línea 1\nlínea <2> & más"
	body := minimalTwiML(text)
	if !strings.HasPrefix(body, "<?xml") {
		t.Fatalf("missing XML declaration: %s", body)
	}
	if got := parseTwiML(t, body).Messages[0]; got != text {
		t.Fatalf("expected %q, got %q", text, got)
	}
}

func TestWriteTwiML_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	writeTwiML(rec, "ok")

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("expected application/xml, got %q", ct)
	}
	parseTwiML(t, rec.Body.String())
}
