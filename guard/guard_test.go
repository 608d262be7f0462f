package guard

import (
	"net"
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"run_0195f3a2-7c1e-7b7e-9d3f-1a2b3c4d5e6f", false},
		{"landing.v2", false},
		{"", true},
		{"..", true},
		{"../etc/passwd", true},
		{"run/1", true},
		{"run 1", true},
		{strings.Repeat("a", MaxIdentifierLen+1), true},
	}
	for _, tt := range tests {
		err := ValidateIdentifier(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateIdentifier(%q) error=%v, wantErr=%v", tt.id, err, tt.wantErr)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/webhook", false},
		{"http://localhost:11434", false},
		{"http://10.0.0.1/internal", false},
		{"ftp://example.com/data", true},
		{"javascript:alert(1)", true},
		{"http:///nohost", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidatePublicURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://93.184.216.34/hook", false},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"ftp://93.184.216.34/", true},
	}
	for _, tt := range tests {
		err := ValidatePublicURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePublicURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); err == nil {
		t.Fatal("expected error above limit")
	}
}

func TestIsPrivateIP(t *testing.T) {
	for ip, want := range map[string]bool{
		"8.8.8.8":    false,
		"100.64.1.1": true,
		"0.0.0.0":    true,
		"fd00::1":    true,
	} {
		if got := isPrivateIP(net.ParseIP(ip)); got != want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", ip, got, want)
		}
	}
}
