package wellknown

import "testing"

func TestMetadataURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://gw.example.com", "https://gw.example.com/.well-known/oauth-protected-resource"},
		{"https://gw.example.com/", "https://gw.example.com/.well-known/oauth-protected-resource"},
		{"http://localhost:8080/mcp?x=1", "http://localhost:8080/.well-known/oauth-protected-resource"},
	}
	for _, tt := range tests {
		if got := MetadataURL(tt.in); got != tt.want {
			t.Errorf("MetadataURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
