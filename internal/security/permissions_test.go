package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPermissionConstants(t *testing.T) {
	tests := []struct {
		name     string
		perm     os.FileMode
		expected os.FileMode
	}{
		{"PermConfigFile", PermConfigFile, 0640},
		{"PermLogFile", PermLogFile, 0640},
		{"PermDBFile", PermDBFile, 0640},
		{"PermDirectory", PermDirectory, 0750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.perm != tt.expected {
				t.Errorf("%s = %04o, want %04o", tt.name, tt.perm, tt.expected)
			}
		})
	}
}

func TestCreateSecureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")

	if err := CreateSecureDir(path, PermDirectory); err != nil {
		t.Fatalf("CreateSecureDir() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("CreateSecureDir() did not create a directory")
	}
	if got := info.Mode().Perm(); got != PermDirectory {
		t.Errorf("directory mode = %04o, want %04o", got, PermDirectory)
	}

	// An existing directory gets its mode fixed.
	if err := os.Chmod(path, 0777); err != nil {
		t.Fatal(err)
	}
	if err := CreateSecureDir(path, PermDirectory); err != nil {
		t.Fatalf("CreateSecureDir() on existing dir error = %v", err)
	}
	info, _ = os.Stat(path)
	if got := info.Mode().Perm(); got != PermDirectory {
		t.Errorf("existing directory mode = %04o, want %04o", got, PermDirectory)
	}
}

func TestOpenAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	for _, line := range []string{"first\n", "second\n"} {
		f, err := OpenAppendFile(path, PermLogFile)
		if err != nil {
			t.Fatalf("OpenAppendFile() error = %v", err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("file contents = %q, want both lines appended", data)
	}
}

func TestPrepareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	if err := PrepareFile(path, PermDBFile); err != nil {
		t.Fatalf("PrepareFile() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if got := info.Mode().Perm(); got != PermDBFile {
		t.Errorf("file mode = %04o, want %04o", got, PermDBFile)
	}

	// Existing contents survive and the mode is tightened.
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := PrepareFile(path, PermDBFile); err != nil {
		t.Fatalf("PrepareFile() on existing file error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "data" {
		t.Errorf("PrepareFile() changed contents to %q", data)
	}
	info, _ = os.Stat(path)
	if got := info.Mode().Perm(); got != PermDBFile {
		t.Errorf("file mode = %04o, want %04o", got, PermDBFile)
	}
}

func TestIsWorldReadableWritable(t *testing.T) {
	tests := []struct {
		perm      os.FileMode
		readable  bool
		writeable bool
	}{
		{0600, false, false},
		{0640, false, false},
		{0644, true, false},
		{0642, false, true},
		{0666, true, true},
	}

	for _, tt := range tests {
		if got := IsWorldReadable(tt.perm); got != tt.readable {
			t.Errorf("IsWorldReadable(%04o) = %v, want %v", tt.perm, got, tt.readable)
		}
		if got := IsWorldWritable(tt.perm); got != tt.writeable {
			t.Errorf("IsWorldWritable(%04o) = %v, want %v", tt.perm, got, tt.writeable)
		}
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		perm    os.FileMode
		wantErr bool
	}{
		{"owner only", 0600, false},
		{"group readable", 0640, false},
		{"world readable", 0644, true},
		{"world writable", 0602, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte("jobs: {}\n"), tt.perm); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(path, tt.perm); err != nil {
				t.Fatal(err)
			}

			err := ValidateSecurePermissions(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateSecurePermissions(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("ValidateSecurePermissions() should fail for a missing file")
	}
}
