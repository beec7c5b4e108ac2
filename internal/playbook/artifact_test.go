package playbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	tests := []struct {
		agent, alertType string
		want             string
	}{
		{"web-01", "C2", "web-01-C2-20250314_092653.yml"},
		{"web-01", "Network Scan", "web-01-Network Scan-20250314_092653.yml"},
		{"../../etc", "DoS", "_.._etc-DoS-20250314_092653.yml"},
		{"", "SSH", "unknown-SSH-20250314_092653.yml"},
		{"a/b", "DNS", "a_b-DNS-20250314_092653.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := Filename(tt.agent, tt.alertType, at); got != tt.want {
				t.Errorf("Filename(%q, %q) = %q, want %q", tt.agent, tt.alertType, got, tt.want)
			}
		})
	}
}

func TestWriter_Write(t *testing.T) {
	t.Parallel()

	pdd := t.TempDir()
	w := NewWriter(pdd)
	if w.Dir() != filepath.Join(pdd, ProjectDir) {
		t.Fatalf("Dir = %q", w.Dir())
	}

	name, path, err := w.Write("web-01-C2-20250314_092653.yml", []byte("- hosts: all\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if name != "web-01-C2-20250314_092653.yml" {
		t.Errorf("name = %q", name)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "- hosts: all\n" {
		t.Errorf("content = %q", got)
	}
}

func TestWriter_CollisionAddsSuffix(t *testing.T) {
	t.Parallel()

	w := NewWriter(t.TempDir())
	const name = "web-01-C2-20250314_092653.yml"

	var names []string
	for i := range 3 {
		got, _, err := w.Write(name, []byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
		names = append(names, got)
	}

	want := []string{
		"web-01-C2-20250314_092653.yml",
		"web-01-C2-20250314_092653_2.yml",
		"web-01-C2-20250314_092653_3.yml",
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	first, err := os.ReadFile(filepath.Join(w.Dir(), name))
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(first) != "a" {
		t.Errorf("first file overwritten: %q", first)
	}
}

func TestCheckYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "valid play",
			content: `- name: Block C2 traffic
  hosts: fw-01
  tasks:
    - name: drop
      ansible.builtin.command: iptables -A FORWARD -s 10.0.1.15 -j DROP
`,
		},
		{name: "import", content: "- import_playbook: other.yml\n"},
		{name: "prose", content: "Here is your playbook:", wantErr: "not a YAML list"},
		{name: "mapping", content: "hosts: all\n", wantErr: "not a YAML list"},
		{name: "empty", content: "", wantErr: "no plays"},
		{name: "no hosts", content: "- name: x\n  tasks: []\n", wantErr: "play 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckYAML(tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("CheckYAML: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CheckYAML error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
