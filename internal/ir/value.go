// Package ir implements the SSA-like intermediate representation of flow programs.
//
// A Program owns Handlers; a Handler owns BasicBlocks; a BasicBlock owns Instrs. Constants,
// Builtins and Handlers are program-level values which can be used as operands of any
// instruction in the program. Every operand slot that refers to a Value is recorded in that
// Value's use list, so that def-use information is always exact.
package ir

import (
	"fmt"

	"github.com/xzero/flow/api"
)

// Value is anything an instruction can take as an operand.
type Value interface {
	// Type returns the type of this value.
	Type() api.Type
	// Name returns the display name of this value.
	Name() string
	// SetName sets the display name.
	SetName(name string)
	// Uses returns the instructions using this value, one entry per operand slot.
	Uses() []*Instr
	// IsUsed returns true if any instruction uses this value.
	IsUsed() bool

	base() *valueBase
}

type valueBase struct {
	typ  api.Type
	name string
	uses []*Instr
}

// Type implements Value.Type.
func (v *valueBase) Type() api.Type { return v.typ }

// Name implements Value.Name.
func (v *valueBase) Name() string { return v.name }

// SetName implements Value.SetName.
func (v *valueBase) SetName(name string) { v.name = name }

// Uses implements Value.Uses.
func (v *valueBase) Uses() []*Instr { return v.uses }

// IsUsed implements Value.IsUsed.
func (v *valueBase) IsUsed() bool { return len(v.uses) > 0 }

func (v *valueBase) base() *valueBase { return v }

func (v *valueBase) addUse(user *Instr) {
	v.uses = append(v.uses, user)
}

// removeUse drops exactly one use entry of user.
func (v *valueBase) removeUse(user *Instr) {
	for i, u := range v.uses {
		if u == user {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("BUG: %s is not a user of %s", user.Name(), v.name))
}

// ReplaceAllUsesWith rewrites every operand slot referring to old so that it refers to
// replacement instead. old is unused afterwards.
func ReplaceAllUsesWith(old, replacement Value) {
	if old == replacement {
		return
	}
	// ReplaceOperand mutates old's use list, so iterate over a snapshot.
	users := append([]*Instr(nil), old.Uses()...)
	for _, user := range users {
		user.ReplaceOperand(old, replacement)
	}
	if old.IsUsed() {
		panic(fmt.Sprintf("BUG: %s still used after replacing all uses", old.Name()))
	}
}
