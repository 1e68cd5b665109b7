package roles

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		doc    Document
		want   []string
		wantOK bool
	}{
		{"list of strings", Document{"roles": []any{"admin", "developer"}}, []string{"admin", "developer"}, true},
		{"typed slice", Document{"roles": []string{"viewer"}}, []string{"viewer"}, true},
		{"duplicates collapse", Document{"roles": []any{"a", "a", "b"}}, []string{"a", "b"}, true},
		{"non-strings dropped", Document{"roles": []any{1, "x", map[string]any{}}}, []string{"x"}, true},
		{"string is malformed", Document{"roles": "admin"}, []string{}, false},
		{"object is malformed", Document{"roles": map[string]any{"admin": true}}, []string{}, false},
		{"missing field", Document{}, []string{}, true},
		{"null field", Document{"roles": nil}, []string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.doc)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
