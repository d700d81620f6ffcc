package vm

import (
	"context"
	"fmt"
	"strings"
)

// Handler is the bytecode of one flow handler.
type Handler struct {
	program       *Program
	name          string
	registerCount int
	code          []Instruction
}

// Name returns the handler name.
func (h *Handler) Name() string { return h.name }

// Program returns the owning program.
func (h *Handler) Program() *Program { return h.program }

// RegisterCount returns the size of the register file a Runner needs for this handler.
func (h *Handler) RegisterCount() int { return h.registerCount }

// Code returns the instructions. The returned slice must not be modified.
func (h *Handler) Code() []Instruction { return h.code }

// CreateRunner returns a new Runner executing this handler.
func (h *Handler) CreateRunner() *Runner {
	return NewRunner(h)
}

// Run executes the handler on a fresh Runner and returns whether the request was handled.
// Suspension is not supported on this path. userdata is made available to native callbacks through Runner.UserData.
func (h *Handler) Run(ctx context.Context, userdata interface{}) bool {
	r := NewRunner(h)
	r.SetUserData(userdata)
	defer r.Close()
	return r.Run(ctx)
}

// Disassemble renders the handler's instructions, resolving pool references in comments.
func (h *Handler) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, ".handler %s ; registers=%d\n", h.name, h.registerCount)
	for pc, i := range h.code {
		line := fmt.Sprintf("%4d: %s", pc, i)
		if comment := h.program.comment(i); comment != "" {
			line = fmt.Sprintf("%-40s ; %s", line, comment)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
