package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSearchPaths(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		paths   []string
		want    string
		wantErr bool
	}{
		{"finds first existing file", []string{file2, file1}, file1, false},
		{"returns error when no files exist", []string{file2, filepath.Join(tmpDir, "nonexistent.txt")}, "", true},
		{"handles empty path list", []string{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SearchPaths(tt.paths)
			if (err != nil) != tt.wantErr {
				t.Errorf("SearchPaths() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SearchPaths() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearchPathsOptional(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "jobs.yaml")
	if err := os.WriteFile(file1, []byte("jobs: {}"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if got := SearchPathsOptional([]string{file1}); got != file1 {
		t.Errorf("SearchPathsOptional() = %v, want %v", got, file1)
	}
	if got := SearchPathsOptional([]string{filepath.Join(tmpDir, "missing.yaml")}); got != "" {
		t.Errorf("SearchPathsOptional() = %v, want empty", got)
	}
	if got := SearchPathsOptional(nil); got != "" {
		t.Errorf("SearchPathsOptional(nil) = %v, want empty", got)
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("jobs.yaml")

	if len(paths) != 3 {
		t.Fatalf("DefaultConfigPaths() returned %d paths, want 3", len(paths))
	}
	for i, path := range paths {
		if !strings.HasSuffix(path, "jobs.yaml") {
			t.Errorf("DefaultConfigPaths()[%d] = %v, should end with 'jobs.yaml'", i, path)
		}
	}
	if paths[1] != filepath.Join("config", "jobs.yaml") {
		t.Errorf("DefaultConfigPaths()[1] = %v, want config/jobs.yaml", paths[1])
	}
	if paths[2] != "/etc/teststability/jobs.yaml" {
		t.Errorf("DefaultConfigPaths()[2] = %v, want /etc/teststability/jobs.yaml", paths[2])
	}
}

func TestFindConfigOptional(t *testing.T) {
	tmpDir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if got := FindConfigOptional("teststability-missing.yaml"); got != "" {
		t.Errorf("FindConfigOptional() = %v, want empty", got)
	}
	if _, err := FindConfig("teststability-missing.yaml"); err == nil {
		t.Error("FindConfig() should fail when no file exists")
	}

	if err := os.MkdirAll("config", 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join("config", "jobs.yaml"), []byte("jobs: {}"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigOptional("jobs.yaml"); got != filepath.Join("config", "jobs.yaml") {
		t.Errorf("FindConfigOptional() = %v, want config/jobs.yaml", got)
	}

	// The working directory wins over ./config.
	if err := os.WriteFile("jobs.yaml", []byte("jobs: {}"), 0644); err != nil {
		t.Fatal(err)
	}
	if got, _ := FindConfig("jobs.yaml"); got != "jobs.yaml" {
		t.Errorf("FindConfig() = %v, want jobs.yaml", got)
	}
}

func TestFileAndDirExists(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	missing := filepath.Join(tmpDir, "missing")

	if !FileExists(testFile) {
		t.Error("FileExists() = false for an existing file")
	}
	if FileExists(tmpDir) {
		t.Error("FileExists() = true for a directory")
	}
	if FileExists(missing) {
		t.Error("FileExists() = true for a missing path")
	}

	if !DirExists(tmpDir) {
		t.Error("DirExists() = false for an existing directory")
	}
	if DirExists(testFile) {
		t.Error("DirExists() = true for a file")
	}
	if DirExists(missing) {
		t.Error("DirExists() = true for a missing path")
	}
}

func TestExpandPatterns(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"TEST-b.xml", "TEST-a.xml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("<testsuites/>"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "TEST-dir.xml"), 0755); err != nil {
		t.Fatal(err)
	}

	a := filepath.Join(tmpDir, "TEST-a.xml")
	b := filepath.Join(tmpDir, "TEST-b.xml")

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{"glob sorted, directories skipped", []string{filepath.Join(tmpDir, "TEST-*.xml")}, []string{a, b}, false},
		{"plain file", []string{b}, []string{b}, false},
		{"duplicates removed", []string{a, filepath.Join(tmpDir, "*.xml")}, []string{a, b}, false},
		{"missing plain file", []string{filepath.Join(tmpDir, "missing.xml")}, nil, true},
		{"glob with no match", []string{filepath.Join(tmpDir, "*.json")}, nil, true},
		{"malformed pattern", []string{filepath.Join(tmpDir, "[")}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPatterns(tt.patterns)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandPatterns() error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ExpandPatterns() = %v, want %v", got, tt.want)
			}
		})
	}
}
