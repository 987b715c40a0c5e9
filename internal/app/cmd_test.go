package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"nil defaults to serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"retention", []string{"retention"}, CommandRetention},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"session", []string{"session"}, CommandSession},
		{"case insensitive", []string{"MIGRATE"}, CommandMigrate},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) returned error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownReturnsUsage(t *testing.T) {
	_, err := ParseCommand([]string{"fetch"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `"fetch"`) {
		t.Errorf("error should name the command: %v", err)
	}
	if !strings.Contains(err.Error(), "retention") {
		t.Errorf("error should include usage: %v", err)
	}
}

func TestUsage_ListsAllCommandsSorted(t *testing.T) {
	u := Usage()
	order := []string{"healthcheck", "migrate", "retention", "serve", "session", "worker"}
	last := -1
	for _, name := range order {
		i := strings.Index(u, "  "+name)
		if i < 0 {
			t.Fatalf("usage is missing %q:\n%s", name, u)
		}
		if i < last {
			t.Errorf("%q is out of order:\n%s", name, u)
		}
		last = i
	}
}
