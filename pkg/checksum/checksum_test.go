package checksum

import "testing"

func TestSHA256(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			// echo -n "hello" | sha256sum
			name:  "hello",
			input: []byte("hello"),
			want:  "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			name:  "empty",
			input: nil,
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SHA256(tt.input); got != tt.want {
				t.Errorf("SHA256(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("binary data", func(t *testing.T) {
		got := SHA256([]byte{0x00, 0x01, 0x02, 0x03, 0xFF})
		if len(got) != 64 {
			t.Errorf("SHA256() returned %d-char hex string, want 64", len(got))
		}
		for _, c := range got {
			if c >= 'A' && c <= 'F' {
				t.Errorf("SHA256() returned uppercase hex: %q", got)
				return
			}
		}
	})

	t.Run("different inputs differ", func(t *testing.T) {
		if SHA256([]byte("input-a")) == SHA256([]byte("input-b")) {
			t.Error("SHA256() returned same hash for different inputs")
		}
	})
}
