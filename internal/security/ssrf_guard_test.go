package security

import (
	"testing"
	"time"
)

func TestValidateURL_AllowsPublicURLs(t *testing.T) {
	g := NewSSRFGuard()

	valid := []string{
		"https://example.com/product/42",
		"http://shop.example.org/item?id=1",
		"https://93.184.216.34/page",
	}
	for _, u := range valid {
		if err := g.ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, 公開URLは許可されるべき", u, err)
		}
	}
}

func TestValidateURL_BlocksPrivateTargets(t *testing.T) {
	g := NewSSRFGuard()

	blocked := []string{
		"http://10.0.0.5/admin",
		"http://172.16.1.1/",
		"http://192.168.1.10/prices",
		"http://127.0.0.1:8080/",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost/metrics",
		"http://[::1]/",
	}
	for _, u := range blocked {
		if err := g.ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, 内部ネットワーク向けURLは拒否されるべき", u)
		}
	}
}

func TestValidateURL_BlocksBadSchemes(t *testing.T) {
	g := NewSSRFGuard()

	for _, u := range []string{"ftp://example.com/file", "file:///etc/passwd", "gopher://example.com"} {
		if err := g.ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, http/https以外は拒否されるべき", u)
		}
	}
}

func TestValidateURL_EmptyAndMalformed(t *testing.T) {
	g := NewSSRFGuard()

	if err := g.ValidateURL(""); err == nil {
		t.Error("空URLは拒否されるべき")
	}
	if err := g.ValidateURL("https://"); err == nil {
		t.Error("ホストなしURLは拒否されるべき")
	}
}

func TestNewSafeClient(t *testing.T) {
	g := NewSSRFGuard()
	client := g.NewSafeClient(5*time.Second, 1024)
	if client == nil {
		t.Fatal("NewSafeClientはnilを返すべきではない")
	}
}

func TestTextSanitizer_StripsTags(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Plain Product Name", "Plain Product Name"},
		{"<b>Widget</b> <script>alert(1)</script>Pro", "Widget Pro"},
		{"  Widget   Pro \n 2000 ", "Widget Pro 2000"},
		{`<a href="https://evil.example">Widget</a>`, "Widget"},
	}
	for _, tt := range tests {
		if got := s.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	in := "<i>Deluxe</i> Item"
	once := s.Sanitize(in)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("サニタイズは冪等であるべき: %q != %q", once, twice)
	}
}
