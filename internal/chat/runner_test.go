package chat

import (
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Store:     nil,
		Responder: NewScriptedResponder(),
		AppName:   "demo_app",
	}
	if err := valid.validate(); err == nil {
		t.Error("validate() should reject a missing store")
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing responder", func(c *Config) { c.Responder = nil }},
		{"missing app name", func(c *Config) { c.AppName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() should return an error")
			}
		})
	}
}

func TestStateInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state map[string]any
		want  int64
	}{
		{"float64 from JSON", map[string]any{"message_count": float64(7)}, 7},
		{"native int", map[string]any{"message_count": 3}, 3},
		{"native int64", map[string]any{"message_count": int64(9)}, 9},
		{"missing key", map[string]any{}, 0},
		{"wrong type", map[string]any{"message_count": "five"}, 0},
		{"nil state", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := stateInt(tt.state, "message_count")
			if got != tt.want {
				t.Errorf("stateInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStateBool(t *testing.T) {
	t.Parallel()

	if !stateBool(map[string]any{"has_files": true}, "has_files") {
		t.Error("stateBool(true) = false")
	}
	if stateBool(map[string]any{"has_files": false}, "has_files") {
		t.Error("stateBool(false) = true")
	}
	if stateBool(map[string]any{}, "has_files") {
		t.Error("stateBool(missing) = true")
	}
	if stateBool(map[string]any{"has_files": "yes"}, "has_files") {
		t.Error("stateBool(non-bool) = true")
	}
}

func TestUserDelta(t *testing.T) {
	t.Parallel()

	t.Run("increments the counter", func(t *testing.T) {
		t.Parallel()

		delta := userDelta(false)(map[string]any{stateMessageCount: float64(4)})
		if got := delta[stateMessageCount]; got != int64(5) {
			t.Errorf("message_count delta = %v, want 5", got)
		}
		if _, ok := delta[stateHasFiles]; ok {
			t.Error("text-only turn must not touch has_files")
		}
	})

	t.Run("first turn starts at one", func(t *testing.T) {
		t.Parallel()

		delta := userDelta(false)(map[string]any{})
		if got := delta[stateMessageCount]; got != int64(1) {
			t.Errorf("message_count delta = %v, want 1", got)
		}
	})

	t.Run("uploads raise has_files", func(t *testing.T) {
		t.Parallel()

		delta := userDelta(true)(map[string]any{stateMessageCount: float64(1)})
		if got := delta[stateHasFiles]; got != true {
			t.Errorf("has_files delta = %v, want true", got)
		}
	})
}
