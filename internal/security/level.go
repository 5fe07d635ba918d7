package security

import "fmt"

// Level is the process-wide access posture. It is assigned once at startup
// and never changes for the lifetime of the process.
type Level string

const (
	// LevelLimited allows read-only filesystem access.
	LevelLimited Level = "limited"
	// LevelSolid adds filesystem writes, but no delete and no exec.
	LevelSolid Level = "solid"
	// LevelFull allows everything, including delete and command execution.
	LevelFull Level = "full"
)

// Category classifies an operation before authorization. Every request maps
// to exactly one category.
type Category string

const (
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryDelete Category = "delete"
	CategoryExec   Category = "exec"
)

// ParseLevel validates and converts a level string.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelLimited, LevelSolid, LevelFull:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown access level %q (want limited, solid or full)", s)
}

// ParseCategory validates and converts a category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryRead, CategoryWrite, CategoryDelete, CategoryExec:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown operation category %q", s)
}

// Allows reports whether the level permits the category. The table is
// fixed: limited is read-only, solid adds write, full adds delete and exec.
func (l Level) Allows(c Category) bool {
	switch l {
	case LevelLimited:
		return c == CategoryRead
	case LevelSolid:
		return c == CategoryRead || c == CategoryWrite
	case LevelFull:
		return c == CategoryRead || c == CategoryWrite || c == CategoryDelete || c == CategoryExec
	}
	return false
}

// Description returns the human-readable summary shown in the startup
// banner and the health endpoint.
func (l Level) Description() string {
	switch l {
	case LevelLimited:
		return "Read-only filesystem, no command execution"
	case LevelSolid:
		return "Read/write filesystem, no command execution"
	case LevelFull:
		return "Full access: filesystem + command execution"
	}
	return "unknown"
}
