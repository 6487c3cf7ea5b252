package store

import (
	"slices"
	"strings"
)

// SystemFlag is a bit set of the IMAP system flags.
type SystemFlag uint8

// System flags.
const (
	FlagAnswered SystemFlag = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
)

// AllSystemFlags lists the system flags in canonical order.
var AllSystemFlags = []SystemFlag{FlagAnswered, FlagDeleted, FlagDraft, FlagFlagged, FlagRecent, FlagSeen}

var systemFlagNames = map[SystemFlag]string{
	FlagAnswered: `\Answered`,
	FlagDeleted:  `\Deleted`,
	FlagDraft:    `\Draft`,
	FlagFlagged:  `\Flagged`,
	FlagRecent:   `\Recent`,
	FlagSeen:     `\Seen`,
}

// String returns the IMAP name of a single system flag.
func (f SystemFlag) String() string {
	if name, ok := systemFlagNames[f]; ok {
		return name
	}
	var names []string
	for _, sf := range AllSystemFlags {
		if f&sf != 0 {
			names = append(names, systemFlagNames[sf])
		}
	}
	return strings.Join(names, " ")
}

// Flags is the flag set of a message: system flags plus user-defined keywords.
// The zero value is an empty set. User keywords are kept sorted and unique.
type Flags struct {
	System SystemFlag
	User   []string
}

// NewFlags builds a flag set from system flags and user keywords.
func NewFlags(system SystemFlag, user ...string) Flags {
	return Flags{System: system, User: normalizeKeywords(user)}
}

// ParseFlags builds a flag set from IMAP flag names. Names starting with a
// backslash that match a system flag (case-insensitively) set that flag;
// everything else is a user keyword.
func ParseFlags(names ...string) Flags {
	var f Flags
	var user []string
	for _, name := range names {
		if sf, ok := lookupSystemFlag(name); ok {
			f.System |= sf
			continue
		}
		if name != "" {
			user = append(user, name)
		}
	}
	f.User = normalizeKeywords(user)
	return f
}

func lookupSystemFlag(name string) (SystemFlag, bool) {
	for sf, n := range systemFlagNames {
		if strings.EqualFold(n, name) {
			return sf, true
		}
	}
	return 0, false
}

func normalizeKeywords(user []string) []string {
	if len(user) == 0 {
		return nil
	}
	out := slices.Clone(user)
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether all given system flags are set.
func (f Flags) Has(sf SystemFlag) bool {
	return f.System&sf == sf
}

// HasKeyword reports whether the user keyword is set.
func (f Flags) HasKeyword(keyword string) bool {
	_, found := slices.BinarySearch(f.User, keyword)
	return found
}

// Seen is shorthand for Has(FlagSeen).
func (f Flags) Seen() bool {
	return f.Has(FlagSeen)
}

// With returns a copy of f with the system flags set.
func (f Flags) With(sf SystemFlag) Flags {
	c := f.Clone()
	c.System |= sf
	return c
}

// Without returns a copy of f with the system flags cleared.
func (f Flags) Without(sf SystemFlag) Flags {
	c := f.Clone()
	c.System &^= sf
	return c
}

// Union returns the flags present in f or o.
func (f Flags) Union(o Flags) Flags {
	user := make([]string, 0, len(f.User)+len(o.User))
	user = append(user, f.User...)
	user = append(user, o.User...)
	return Flags{System: f.System | o.System, User: normalizeKeywords(user)}
}

// Minus returns the flags of f that are not in o.
func (f Flags) Minus(o Flags) Flags {
	var user []string
	for _, k := range f.User {
		if !o.HasKeyword(k) {
			user = append(user, k)
		}
	}
	return Flags{System: f.System &^ o.System, User: user}
}

// Equal reports whether both sets hold the same flags.
func (f Flags) Equal(o Flags) bool {
	return f.System == o.System && slices.Equal(f.User, o.User)
}

// Clone returns a deep copy.
func (f Flags) Clone() Flags {
	return Flags{System: f.System, User: slices.Clone(f.User)}
}

// Names returns the IMAP names of every flag in the set, system flags first.
func (f Flags) Names() []string {
	names := make([]string, 0, len(AllSystemFlags)+len(f.User))
	for _, sf := range AllSystemFlags {
		if f.System&sf != 0 {
			names = append(names, systemFlagNames[sf])
		}
	}
	return append(names, f.User...)
}

func (f Flags) String() string {
	return "(" + strings.Join(f.Names(), " ") + ")"
}

// FlagUpdateMode selects how a FlagUpdate combines with the stored flags.
type FlagUpdateMode int

// Flag update modes.
const (
	// FlagsReplace sets the stored flags to exactly the given set.
	FlagsReplace FlagUpdateMode = iota
	// FlagsAdd adds the given flags to whatever is stored.
	FlagsAdd
	// FlagsRemove removes the given flags from whatever is stored.
	FlagsRemove
)

func (m FlagUpdateMode) String() string {
	switch m {
	case FlagsReplace:
		return "replace"
	case FlagsAdd:
		return "add"
	case FlagsRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// FlagUpdate is a flag-change request applied against a message's current flags.
type FlagUpdate struct {
	Mode  FlagUpdateMode
	Flags Flags
}

// ReplaceFlags returns an update that replaces the stored flags wholesale.
func ReplaceFlags(f Flags) FlagUpdate {
	return FlagUpdate{Mode: FlagsReplace, Flags: f}
}

// AddFlags returns an update that adds flags.
func AddFlags(f Flags) FlagUpdate {
	return FlagUpdate{Mode: FlagsAdd, Flags: f}
}

// RemoveFlags returns an update that removes flags.
func RemoveFlags(f Flags) FlagUpdate {
	return FlagUpdate{Mode: FlagsRemove, Flags: f}
}

// Apply computes the flags resulting from applying u to current.
// Replace ignores current; add and remove are relative to it.
func (u FlagUpdate) Apply(current Flags) Flags {
	switch u.Mode {
	case FlagsAdd:
		return current.Union(u.Flags)
	case FlagsRemove:
		return current.Minus(u.Flags)
	default:
		return u.Flags.Clone()
	}
}
