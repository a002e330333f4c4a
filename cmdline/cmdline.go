// Package cmdline parses the boot-option command line, per spec.md §6:
// whitespace-separated KEY=value tokens, a closed recognized set, and
// anything unrecognized passed through to the kernel verbatim via
// LoadOptions. This is hand-rolled rather than built on cobra: cobra
// models a program's subcommand/flag surface, not an NT boot option
// string (no "--", no subcommands, repeated bare tokens like PAE/NOPAE
// are valid flags with no value), so it would fight the grammar more
// than it would save.
package cmdline

import "strings"

// NoExecutePolicy is the NOEXECUTE= value, mirroring the kernel's own
// DEP policy enum.
type NoExecutePolicy int

const (
	NoExecuteDefault NoExecutePolicy = iota
	NoExecuteOptIn
	NoExecuteOptOut
	NoExecuteAlwaysOn
	NoExecuteAlwaysOff
)

func parseNoExecute(v string) (NoExecutePolicy, bool) {
	switch strings.ToUpper(v) {
	case "OPTIN":
		return NoExecuteOptIn, true
	case "OPTOUT":
		return NoExecuteOptOut, true
	case "ALWAYSON":
		return NoExecuteAlwaysOn, true
	case "ALWAYSOFF":
		return NoExecuteAlwaysOff, true
	default:
		return NoExecuteDefault, false
	}
}

// Options is the recognized subset of boot options plus the whole raw
// line, which is forwarded to the kernel as-is.
type Options struct {
	DebugPort   string // "com1", "1394", "usb", "net", ...
	HAL         string
	Kernel      string
	Subvol      uint64
	HasSubvol   bool
	PAE         bool
	NoPAE       bool
	NoExecute   NoExecutePolicy
	HasNoExecute bool

	// Raw is the full original command line, forwarded verbatim into the
	// loader block's LoadOptions string (spec.md §6: "unrecognized tokens
	// are passed through to the kernel verbatim via LoadOptions").
	Raw string
}

// Parse tokenizes line on whitespace and fills in the recognized KEY=value
// (and bare-flag) options; unrecognized tokens are ignored for parsing
// purposes but the original line is preserved whole in Options.Raw.
func Parse(line string) Options {
	opt := Options{Raw: line}
	for _, tok := range strings.Fields(line) {
		key, value, hasValue := strings.Cut(tok, "=")
		switch strings.ToUpper(key) {
		case "DEBUGPORT":
			if hasValue {
				opt.DebugPort = value
			}
		case "HAL":
			if hasValue {
				opt.HAL = value
			}
		case "KERNEL":
			if hasValue {
				opt.Kernel = value
			}
		case "SUBVOL":
			if hasValue {
				if v, ok := parseHexU64(value); ok {
					opt.Subvol = v
					opt.HasSubvol = true
				}
			}
		case "PAE":
			opt.PAE = true
		case "NOPAE":
			opt.NoPAE = true
		case "NOEXECUTE":
			if hasValue {
				if policy, ok := parseNoExecute(value); ok {
					opt.NoExecute = policy
					opt.HasNoExecute = true
				}
			}
		}
	}
	return opt
}

func parseHexU64(s string) (uint64, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, c := range s {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, false
		}
		v = v*16 + d
	}
	return v, true
}
