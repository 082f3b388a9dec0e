package core

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrUnknownCommand is returned by Dispatch for names nobody registered.
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler handles one shell command. args excludes the command name;
// output goes to w.
type CommandHandler func(args []string, w io.Writer) error

// Command represents a console command
type Command struct {
	ID      uint16
	Name    string
	Usage   string // Argument synopsis shown by help (e.g., "BUS.ADDR[.REG] [VALUE]")
	Summary string // One-line description
	Handler CommandHandler
}

// CommandRegistry holds all registered commands
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
		nextID:   0,
	}
}

// RegisterCommand registers a command handler with the global registry
func RegisterCommand(name, usage, summary string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, usage, summary, handler)
}

// Register adds a command to the registry. Registering a name twice keeps
// the first handler and returns its ID.
func (r *CommandRegistry) Register(name, usage, summary string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already registered
	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++

	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Usage:   usage,
		Summary: summary,
		Handler: handler,
	}
	r.nameToID[name] = id

	return id
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// GetCommandByName retrieves a command by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for name
func (r *CommandRegistry) Dispatch(name string, args []string, w io.Writer) error {
	cmd, ok := r.GetCommandByName(name)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	}
	return cmd.Handler(args, w)
}

// Commands returns the registered commands sorted by name
func (r *CommandRegistry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WriteHelp prints one usage line per command
func (r *CommandRegistry) WriteHelp(w io.Writer) error {
	for _, cmd := range r.Commands() {
		line := cmd.Name
		if cmd.Usage != "" {
			line += " " + cmd.Usage
		}
		if cmd.Summary != "" {
			line += "\n\t" + cmd.Summary
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
