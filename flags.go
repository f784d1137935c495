package sigplay

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Flags is a set of signal disposition options, mirroring the sa_flags of sigaction(2).
//
// The numeric values are the Linux ones, and are only used for display.
type Flags uint32

const (
	FlagNoCldStop Flags = 0x1
	FlagNoCldWait Flags = 0x2
	FlagSigInfo   Flags = 0x4
	FlagRestart   Flags = 0x10000000
	FlagNoDefer   Flags = 0x40000000
	FlagResetHand Flags = 0x80000000
)

// DefaultFlags are the flags used by the drivers when none are given.
const DefaultFlags = FlagRestart

type flagInfo struct {
	char        byte
	flag        Flags
	name        string
	description string
}

var flagTable = []flagInfo{
	{'i', FlagSigInfo, "SA_SIGINFO",
		"Pass extra info to signal handler"},
	{'r', FlagRestart, "SA_RESTART",
		"Restart some interruptible functions (instead of failing with EINTR)"},
	// 'd' for "default", see SIG_DFL
	{'d', FlagResetHand, "SA_RESETHAND",
		"Reset signal disposition (to SIG_DFL) on entry to signal handler"},
	{'s', FlagNoCldStop, "SA_NOCLDSTOP",
		"Do not generate SIGCHLD when children stop or stopped children continue."},
	{'w', FlagNoCldWait, "SA_NOCLDWAIT",
		"Do not create zombie processes on child death"},
	{'b', FlagNoDefer, "SA_NODEFER",
		"Causes signal not to be automatically blocked on entry to signal handler =\n" +
			"do not prevent the signal from being received from within its own signal handler."},
}

// InvalidFlagError is returned by [ParseFlags] for a character that doesn't name any flag.
type InvalidFlagError struct {
	Input string
	Char  rune
	// Pos is the byte offset of Char in Input.
	Pos int
}

func (e *InvalidFlagError) Error() string {
	return fmt.Sprintf("invalid signal flag %q at position %d in %q", e.Char, e.Pos, e.Input)
}

// ParseFlags parses the compact textual form of a flag set: one character per flag, in any
// order, duplicates allowed. The empty string is the empty set.
func ParseFlags(text string) (Flags, error) {
	var flags Flags
	for i := 0; i < len(text); {
		c, size := utf8.DecodeRuneInString(text[i:])
		f, ok := flagForChar(c)
		if !ok {
			return 0, &InvalidFlagError{Input: text, Char: c, Pos: i}
		}
		flags |= f
		i += size
	}
	return flags, nil
}

func flagForChar(c rune) (Flags, bool) {
	for _, info := range flagTable {
		if rune(info.char) == c {
			return info.flag, true
		}
	}
	return 0, false
}

// Has reports whether all of the flags in other are set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// Chars returns the canonical textual form of f, accepted by [ParseFlags].
func (f Flags) Chars() string {
	var b strings.Builder
	for _, info := range flagTable {
		if f&info.flag != 0 {
			b.WriteByte(info.char)
		}
	}
	return b.String()
}

// Names returns the canonical names of the flags in f, e.g. "SA_RESTART".
func (f Flags) Names() []string {
	var names []string
	for _, info := range flagTable {
		if f&info.flag != 0 {
			names = append(names, info.name)
		}
	}
	return names
}

func (f Flags) String() string {
	return fmt.Sprintf("%#x(%s)", uint32(f), f.Chars())
}

// Describe returns a multi-line, human-readable summary of the flags that are set in f.
func (f Flags) Describe() string {
	var b strings.Builder

	fmt.Fprintf(&b, "sigaction flags: combined value %#x, CLI arg '%s'\n", uint32(f), f.Chars())
	b.WriteString("sigaction flag names:")
	for _, name := range f.Names() {
		fmt.Fprintf(&b, " %s,", name)
	}
	b.WriteString("\nsigaction flag details:\n")
	for _, info := range flagTable {
		if f&info.flag != 0 {
			info.write(&b)
		}
	}
	return b.String()
}

// DescribeAllFlags returns a description of every known flag, for usage text.
func DescribeAllFlags() string {
	var b strings.Builder
	b.WriteString("sigaction flag details:\n")
	for _, info := range flagTable {
		info.write(&b)
	}
	return b.String()
}

func (info flagInfo) write(b *strings.Builder) {
	fmt.Fprintf(b, "'%c' -> %s = %#x\n  %s\n", info.char, info.name, uint32(info.flag), info.description)
}
