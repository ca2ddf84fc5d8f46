package planner

import "masterplan/internal/domain"

// Unassigned is the resource id used when a process kind has no machine pool.
const Unassigned = "UNASSIGNED"

// ResourcePool holds the machine pools per process kind and the assembly line
// rotation. It is a value: NextLine returns the advanced pool instead of
// mutating shared state.
type ResourcePool struct {
	machines map[domain.ProcessKind][]string
	lines    []string
	cursor   int
}

// NewResourcePool builds a pool. cursor is the index of the next assembly
// line and wraps around the pool size.
func NewResourcePool(machines map[domain.ProcessKind][]string, lines []string, cursor int) ResourcePool {
	m := make(map[domain.ProcessKind][]string, len(machines))
	for k, v := range machines {
		m[k] = append([]string(nil), v...)
	}
	p := ResourcePool{machines: m, lines: append([]string(nil), lines...)}
	p.cursor = p.wrap(cursor)
	return p
}

// DefaultMachine returns the first machine of the kind's pool.
func (p ResourcePool) DefaultMachine(kind domain.ProcessKind) string {
	if pool := p.machines[kind]; len(pool) > 0 {
		return pool[0]
	}
	return Unassigned
}

// Machines returns the pool for a kind.
func (p ResourcePool) Machines(kind domain.ProcessKind) []string {
	return append([]string(nil), p.machines[kind]...)
}

// Lines returns the assembly line pool in rotation order.
func (p ResourcePool) Lines() []string {
	return append([]string(nil), p.lines...)
}

// Cursor is the index of the line NextLine will hand out.
func (p ResourcePool) Cursor() int {
	return p.cursor
}

// NextLine returns the current line and the pool advanced by one.
func (p ResourcePool) NextLine() (string, ResourcePool) {
	if len(p.lines) == 0 {
		return Unassigned, p
	}
	line := p.lines[p.cursor]
	p.cursor = p.wrap(p.cursor + 1)
	return line, p
}

func (p ResourcePool) wrap(i int) int {
	n := len(p.lines)
	if n == 0 {
		return 0
	}
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
