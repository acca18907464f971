package domain

import "testing"

func TestAttachmentRef_IsImage(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"image/jpeg", true},
		{"IMAGE/PNG", true},
		{" image/webp", true},
		{"application/pdf", false},
		{"audio/ogg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (AttachmentRef{ContentType: tt.ct}).IsImage(); got != tt.want {
			t.Errorf("IsImage(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestAttachmentRef_MIMETypeStripsParams(t *testing.T) {
	a := AttachmentRef{ContentType: "Image/JPEG; charset=binary"}
	if got := a.MIMEType(); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", got)
	}
}

func TestInboundMessage_ImageAttachmentsKeepsOrder(t *testing.T) {
	msg := InboundMessage{Attachments: []AttachmentRef{
		{Index: 0, URL: "a", ContentType: "image/png"},
		{Index: 1, URL: "b", ContentType: "application/pdf"},
		{Index: 2, URL: "c", ContentType: "image/jpeg"},
	}}
	imgs := msg.ImageAttachments()
	if len(imgs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(imgs))
	}
	if imgs[0].URL != "a" || imgs[1].URL != "c" {
		t.Fatalf("unexpected order: %+v", imgs)
	}
}

func TestInlineImage_DataURI(t *testing.T) {
	img := InlineImage{MIMEType: "image/png", Data: []byte("hi")}
	if got := img.DataURI(); got != "data:image/png;base64,aGk=" {
		t.Fatalf("unexpected data URI: %s", got)
	}
}
