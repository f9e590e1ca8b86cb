// ABOUTME: Console host that drives the bridge from a terminal
// ABOUTME: Stdin lines become chat events or /bridge commands; broadcasts go to stdout

package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// CommandPrefix marks console lines that are bridge commands rather than chat.
const CommandPrefix = "/bridge"

const taskQueueSize = 64

// CommandHandler runs a console command. args excludes CommandPrefix.
type CommandHandler func(ctx context.Context, args []string, out io.Writer) error

// Console is a Host whose designated goroutine is the one calling Run.
type Console struct {
	in     io.Reader
	out    io.Writer
	id     string
	name   string
	logger *slog.Logger

	tasks   chan func()
	running atomic.Bool

	mu        sync.Mutex
	listeners []ChatListener
	commands  CommandHandler

	outMu sync.Mutex
}

// NewConsole creates a console host reading chat from in and printing to out.
// name is the chat identity for typed lines; each console gets a fresh id.
func NewConsole(in io.Reader, out io.Writer, name string, logger *slog.Logger) *Console {
	return &Console{
		in:     in,
		out:    out,
		id:     uuid.NewString(),
		name:   name,
		logger: logger.With("component", "console"),
		tasks:  make(chan func(), taskQueueSize),
	}
}

// ID returns the identity attached to chat events from this console.
func (c *Console) ID() string {
	return c.id
}

// SetCommandHandler installs the handler for CommandPrefix lines.
func (c *Console) SetCommandHandler(h CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = h
}

// Running reports whether Run is active.
func (c *Console) Running() bool {
	return c.running.Load()
}

// Execute queues task for the Run goroutine.
func (c *Console) Execute(task func()) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	select {
	case c.tasks <- task:
		return nil
	default:
		return ErrBusy
	}
}

// Broadcast prints text to the console.
func (c *Console) Broadcast(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = color.New(color.FgCyan).Fprintf(c.out, "[broadcast] %s\n", text)
}

// OnChat registers l for every chat line typed on the console.
func (c *Console) OnChat(l ChatListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Emit delivers a chat event to every listener. It must run on the host
// goroutine; Run calls it for typed lines.
func (c *Console) Emit(ev ChatEvent) {
	c.mu.Lock()
	listeners := make([]ChatListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		c.safeCall(func() { l(ev) })
	}
}

// Run processes queued tasks and console input until ctx is cancelled.
// End of input does not stop the loop, so the console also works detached
// from a terminal.
func (c *Console) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("console already running")
	}
	defer c.running.Store(false)

	lines := make(chan string)
	go c.readLines(ctx, lines)

	c.logger.Info("console ready", "name", c.name, "commands", CommandPrefix+" help")

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		case task := <-c.tasks:
			c.safeCall(task)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				c.logger.Debug("console input closed")
				continue
			}
			c.handleLine(ctx, line)
		}
	}
}

// drain runs tasks queued before shutdown.
func (c *Console) drain() {
	for {
		select {
		case task := <-c.tasks:
			c.safeCall(task)
		default:
			return
		}
	}
}

func (c *Console) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("reading console input", "error", err)
	}
}

func (c *Console) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	fields := strings.Fields(line)
	if fields[0] != CommandPrefix {
		c.Emit(ChatEvent{SenderID: c.id, SenderName: c.name, Text: line})
		return
	}

	c.mu.Lock()
	handler := c.commands
	c.mu.Unlock()
	if handler == nil {
		c.logger.Warn("no command handler installed", "line", line)
		return
	}

	c.outMu.Lock()
	defer c.outMu.Unlock()
	if err := handler(ctx, fields[1:], c.out); err != nil {
		_, _ = color.New(color.FgRed).Fprintf(c.out, "error: %v\n", err)
	}
}

// safeCall runs fn and logs a panic instead of taking down the host loop.
func (c *Console) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("host task panicked", "panic", r)
		}
	}()
	fn()
}
