package core

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	// Register a command
	var called bool
	handler := func(args []string, w io.Writer) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "ARG", "does a test", handler)

	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	// Verify command can be retrieved
	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}

	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	// Test dispatch
	err := registry.Dispatch("test_command", nil, io.Discard)
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if !called {
		t.Error("Command handler was not called")
	}

	// Test unknown command
	err = registry.Dispatch("nope", nil, io.Discard)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	noop := func(args []string, w io.Writer) error { return nil }
	id1 := registry.Register("command1", "", "", noop)
	id2 := registry.Register("command2", "", "", noop)
	id3 := registry.Register("command3", "", "", noop)

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	// Re-registering keeps the original
	if again := registry.Register("command2", "", "", noop); again != id2 {
		t.Errorf("Re-register returned %d, want %d", again, id2)
	}
	if registry.Count() != 3 {
		t.Errorf("Expected 3 commands, got %d", registry.Count())
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("echo", "WORDS...", "", func(args []string, w io.Writer) error {
		_, err := io.WriteString(w, strings.Join(args, " "))
		return err
	})

	var out strings.Builder
	if err := registry.Dispatch("echo", []string{"a", "b"}, &out); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if out.String() != "a b" {
		t.Errorf("Expected 'a b', got %q", out.String())
	}
}

func TestCommandRegistryHelp(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("zeta", "", "last", func(args []string, w io.Writer) error { return nil })
	registry.Register("alpha", "N", "first", func(args []string, w io.Writer) error { return nil })

	var out strings.Builder
	if err := registry.WriteHelp(&out); err != nil {
		t.Fatalf("WriteHelp failed: %v", err)
	}
	help := out.String()
	if strings.Index(help, "alpha N") < 0 || strings.Index(help, "alpha") > strings.Index(help, "zeta") {
		t.Errorf("Help not sorted or missing usage:\n%s", help)
	}
}

func TestGlobalRegistry(t *testing.T) {
	RegisterCommand("global_test", "", "", func(args []string, w io.Writer) error {
		return nil
	})

	if _, ok := GetGlobalRegistry().GetCommandByName("global_test"); !ok {
		t.Error("Global registry missing registered command")
	}
}
