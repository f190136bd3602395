package sanitize

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestPathWithin(t *testing.T) {
	root := filepath.Join(t.TempDir(), "trees")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{name: "child", path: filepath.Join(root, "wf-1"), want: filepath.Join(root, "wf-1")},
		{name: "nested child", path: filepath.Join(root, "a", "b"), want: filepath.Join(root, "a", "b")},
		{name: "uncleaned child", path: root + "/x/../wf-2", want: filepath.Join(root, "wf-2")},
		{name: "empty", path: "", wantErr: ErrEmptyPath},
		{name: "root itself", path: root, wantErr: ErrPathTraversal},
		{name: "parent", path: filepath.Dir(root), wantErr: ErrPathTraversal},
		{name: "escape", path: root + "/../etc", wantErr: ErrPathTraversal},
		{name: "sibling with shared prefix", path: root + "-other/wf-1", wantErr: ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PathWithin(tt.path, root)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("PathWithin(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PathWithin(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("PathWithin(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
