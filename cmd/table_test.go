package cmd

import (
	"bytes"
	"testing"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []string{"ID", "TITLE"}, [][]string{
		{"1", "hello"},
		{"2", "日本語メモ"},
	})

	want := "ID  TITLE\n" +
		"--  ----------\n" +
		"1   hello\n" +
		"2   日本語メモ\n"
	if got := buf.String(); got != want {
		t.Errorf("renderTable output:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderTableNoRows(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []string{"KEY"}, nil)

	want := "KEY\n---\n"
	if got := buf.String(); got != want {
		t.Errorf("renderTable output = %q, want %q", got, want)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 8, "short"},
		{"hello world", 8, "hello w…"},
		{"日本語メモ", 5, "日本…"},
		{"", 4, ""},
	}
	for _, tt := range tests {
		if got := clip(tt.in, tt.max); got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
