package crypto

import "testing"

func TestChannelSigner(t *testing.T) {
	s := NewChannelSigner("webhook-secret")
	token := s.Sign("chan-1")

	tests := []struct {
		name    string
		channel string
		token   string
		want    bool
	}{
		{"matching token", "chan-1", token, true},
		{"other channel", "chan-2", token, false},
		{"missing token", "chan-1", "", false},
		{"forged token", "chan-1", "deadbeef", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Verify(tt.channel, tt.token); got != tt.want {
				t.Errorf("Verify(%q, %q) = %v, want %v", tt.channel, tt.token, got, tt.want)
			}
		})
	}
}

func TestChannelSigner_Disabled(t *testing.T) {
	var s *ChannelSigner = NewChannelSigner("")
	if s.Sign("chan-1") != "" {
		t.Error("disabled signer issued a token")
	}
	if !s.Verify("chan-1", "") {
		t.Error("disabled signer rejected a delivery")
	}
}
