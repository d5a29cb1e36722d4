package validate

import (
	"strings"
	"testing"
)

func TestHTTPURL_Valid(t *testing.T) {
	valid := []string{
		"http://example.com",
		"https://example.com",
		"https://api.anthropic.com/v1",
		"http://127.0.0.1:8080/path?query=1",
	}
	for _, u := range valid {
		if err := HTTPURL(u); err != nil {
			t.Errorf("HTTPURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestHTTPURL_DisallowedSchemes(t *testing.T) {
	invalid := []string{
		"file:///etc/passwd",
		"ftp://example.com",
		"gopher://example.com",
		"javascript:alert(1)",
	}
	for _, u := range invalid {
		if err := HTTPURL(u); err == nil {
			t.Errorf("HTTPURL(%q) = nil, want error", u)
		}
	}
}

func TestHTTPURL_MissingScheme(t *testing.T) {
	if err := HTTPURL("example.com/path"); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestHTTPURL_MissingHost(t *testing.T) {
	if err := HTTPURL("http://"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestIdent_Valid(t *testing.T) {
	valid := []string{"default", "prod-1", "node.internal", "a", "my_instance"}
	for _, s := range valid {
		if !Ident(s) {
			t.Errorf("Ident(%q) = false, want true", s)
		}
	}
}

func TestIdent_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"-leading-hyphen",
		".leading-dot",
		"has space",
		"has/slash",
		"../escape",
		strings.Repeat("a", MaxIdentLen+1),
	}
	for _, s := range invalid {
		if Ident(s) {
			t.Errorf("Ident(%q) = true, want false", s)
		}
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"relay.example.net:443", false},
		{"127.0.0.1:31145", false},
		{"[::1]:443", false},
		{"relay.example.net", true},
		{"relay.example.net:0", true},
		{"relay.example.net:99999", true},
		{"relay.example.net:https", true},
		{":443", true},
		{"", true},
	}
	for _, tt := range tests {
		err := HostPort(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("HostPort(%q) = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}
