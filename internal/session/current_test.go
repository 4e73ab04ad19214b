package session

import (
	"os"
	"testing"
)

func TestSaveAndLoadCurrent(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("save and load bookmark", func(t *testing.T) {
		cur := Current{AppName: "demo", UserID: "alice", SessionID: "s-1"}

		if err := SaveCurrent(tempDir, cur); err != nil {
			t.Fatalf("SaveCurrent() error = %v", err)
		}

		loaded, err := LoadCurrent(tempDir)
		if err != nil {
			t.Fatalf("LoadCurrent() error = %v", err)
		}
		if loaded == nil {
			t.Fatal("LoadCurrent() returned nil")
		}
		if *loaded != cur {
			t.Errorf("LoadCurrent() = %+v, want %+v", *loaded, cur)
		}
	})

	t.Run("load returns nil when file doesn't exist", func(t *testing.T) {
		emptyDir := t.TempDir()

		loaded, err := LoadCurrent(emptyDir)
		if err != nil {
			t.Errorf("LoadCurrent() error = %v, want nil", err)
		}
		if loaded != nil {
			t.Errorf("LoadCurrent() = %+v, want nil", *loaded)
		}
	})

	t.Run("overwrite existing bookmark", func(t *testing.T) {
		first := Current{AppName: "demo", UserID: "alice", SessionID: "s-1"}
		second := Current{AppName: "demo", UserID: "alice", SessionID: "s-2"}

		if err := SaveCurrent(tempDir, first); err != nil {
			t.Fatalf("SaveCurrent() first save error = %v", err)
		}
		if err := SaveCurrent(tempDir, second); err != nil {
			t.Fatalf("SaveCurrent() second save error = %v", err)
		}

		loaded, err := LoadCurrent(tempDir)
		if err != nil {
			t.Fatalf("LoadCurrent() error = %v", err)
		}
		if loaded == nil {
			t.Fatal("LoadCurrent() returned nil")
		}
		if *loaded != second {
			t.Errorf("LoadCurrent() = %+v, want %+v", *loaded, second)
		}
	})

	t.Run("save rejects incomplete bookmark", func(t *testing.T) {
		err := SaveCurrent(tempDir, Current{AppName: "demo"})
		if err == nil {
			t.Error("SaveCurrent() with missing fields error = nil, want error")
		}
	})
}

func TestClearCurrent(t *testing.T) {
	t.Run("clear existing bookmark", func(t *testing.T) {
		tempDir := t.TempDir()

		cur := Current{AppName: "demo", UserID: "alice", SessionID: "s-1"}
		if err := SaveCurrent(tempDir, cur); err != nil {
			t.Fatalf("SaveCurrent() setup error = %v", err)
		}

		if err := ClearCurrent(tempDir); err != nil {
			t.Errorf("ClearCurrent() error = %v", err)
		}

		loaded, err := LoadCurrent(tempDir)
		if err != nil {
			t.Errorf("LoadCurrent() error = %v", err)
		}
		if loaded != nil {
			t.Errorf("LoadCurrent() after clear = %+v, want nil", *loaded)
		}
	})

	t.Run("clear when file doesn't exist is not an error", func(t *testing.T) {
		tempDir := t.TempDir()

		if err := ClearCurrent(tempDir); err != nil {
			t.Errorf("ClearCurrent() on non-existent file error = %v, want nil", err)
		}
	})
}

func TestLoadCurrent_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not JSON", "not-json at all"},
		{"wrong shape", `["array","not","object"]`},
		{"missing fields", `{"app_name":"demo"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()

			if err := os.WriteFile(currentPath(tempDir), []byte(tt.content), 0o600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			if _, err := LoadCurrent(tempDir); err == nil {
				t.Errorf("LoadCurrent() with %s error = nil, want error", tt.name)
			}
		})
	}
}
