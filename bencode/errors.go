package bencode

import "fmt"

// SyntaxError reports malformed bencode input at a given byte offset.
type SyntaxError struct {
	Offset int
	What   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: syntax error (offset %d): %s", e.Offset, e.What)
}

func syntaxErrorf(offset int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Offset: offset, What: fmt.Sprintf(format, args...)}
}
