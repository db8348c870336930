package ingest

import (
	"net"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://example.com/article", false},
		{"https with port", "https://example.com:8443/page", false},
		{"plain http", "http://example.com/article", true},
		{"ftp", "ftp://example.com/file", true},
		{"no scheme", "example.com/article", true},
		{"localhost", "https://localhost/admin", true},
		{"localhost upper", "https://LOCALHOST/admin", true},
		{"loopback v4", "https://127.0.0.1/secrets", true},
		{"loopback v6", "https://[::1]/secrets", true},
		{"local domain", "https://printer.local/status", true},
		{"internal domain", "https://db.internal/query", true},
		{"private 10", "https://10.0.0.5/metadata", true},
		{"private 192", "https://192.168.1.1/router", true},
		{"private 172", "https://172.16.0.1/admin", true},
		{"link local", "https://169.254.169.254/latest/meta-data", true},
		{"cgnat", "https://100.64.0.1/", true},
		{"public ip", "https://93.184.216.34/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.1", true},
		{"172.31.255.255", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"100.127.255.255", true},
		{"::1", true},
		{"fc00::1", true},
		{"fd12:3456::1", true},
		{"fe80::1", true},
		{"::ffff:192.168.1.1", true},
		{"::ffff:8.8.8.8", false},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:2800:220:1::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("bad test IP %q", tt.ip)
			}
			if got := IsPrivateIP(ip); got != tt.want {
				t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
