package blob

import "testing"

func TestTurnClipKey(t *testing.T) {
	tests := []struct {
		index   int
		speaker string
		ext     string
		want    string
	}{
		{0, "agent", "wav", "sessions/s1/turn-000-agent.wav"},
		{7, "user", "ogg", "sessions/s1/turn-007-user.ogg"},
		{42, "user", ".ogg", "sessions/s1/turn-042-user.ogg"},
		{123, "agent", "wav", "sessions/s1/turn-123-agent.wav"},
	}
	for _, tt := range tests {
		if got := TurnClipKey("s1", tt.index, tt.speaker, tt.ext); got != tt.want {
			t.Errorf("TurnClipKey(%d, %s, %s) = %q, want %q", tt.index, tt.speaker, tt.ext, got, tt.want)
		}
	}
}

func TestSessionAudioKey(t *testing.T) {
	if got := SessionAudioKey("abc"); got != "sessions/abc/full.ogg" {
		t.Errorf("SessionAudioKey = %q", got)
	}
}

func TestStoreURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			"public base url wins",
			Config{Bucket: "b", PublicBaseURL: "https://audio.lingora.app/"},
			"https://audio.lingora.app/sessions/s/full.ogg",
		},
		{
			"custom endpoint is path-style",
			Config{Bucket: "clips", Endpoint: "http://localhost:9000"},
			"http://localhost:9000/clips/sessions/s/full.ogg",
		},
		{
			"default is virtual-hosted",
			Config{Bucket: "clips", Region: "eu-west-1"},
			"https://clips.s3.eu-west-1.amazonaws.com/sessions/s/full.ogg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{cfg: tt.cfg}
			if got := s.URL("sessions/s/full.ogg"); got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}
}
