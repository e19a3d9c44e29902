// Package crisis implements the small indentation-based robot language of
// the programming crisis room: tokenizer, block parser, condition
// evaluator and a step-wise executor driving a grid world.
package crisis

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("program already running")
	ErrEmptyProgram   = errors.New("empty program")
	ErrNoCommands     = errors.New("no valid commands found")
	ErrGameOver       = errors.New("player health depleted")
)

// Error categories of CodeError.
const (
	ErrCategoryParse   = "PARSE ERROR"
	ErrCategorySyntax  = "SYNTAX ERROR"
	ErrCategoryRuntime = "RUNTIME ERROR"
)

// CodeError is a problem in the user's program. Message is the text shown
// to the player.
type CodeError struct {
	Category string
	Line     int
	Message  string
}

func (e *CodeError) Error() string {
	return e.Message
}

func newParseError(line int, format string, args ...interface{}) *CodeError {
	return &CodeError{
		Category: ErrCategoryParse,
		Line:     line,
		Message:  "Parse Error: " + fmt.Sprintf(format, args...),
	}
}

func newSyntaxError(line int, text string) *CodeError {
	return &CodeError{
		Category: ErrCategorySyntax,
		Line:     line,
		Message:  fmt.Sprintf("Syntax error on line %d: %s", line, text),
	}
}

func newRuntimeError(line int, message string) *CodeError {
	return &CodeError{Category: ErrCategoryRuntime, Line: line, Message: message}
}

// IsCategory reports whether err is a CodeError of the given category.
func IsCategory(err error, category string) bool {
	var ce *CodeError
	return errors.As(err, &ce) && ce.Category == category
}
