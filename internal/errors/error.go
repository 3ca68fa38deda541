package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Category groups error codes.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryLoad     Category = "load"
	CategoryProtocol Category = "protocol"
	CategoryReplay   Category = "replay"
	CategoryCLI      Category = "cli"
)

// Location points into a file the user wrote, usually a config file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a coded error with enough context for an operator to act on.
type Error struct {
	Code     string
	Category Category
	Message  string

	// Detail explains the failure, usually the text of the wrapped cause.
	Detail string

	Location *Location

	// Context holds the lines around Location.Line, starting at
	// ContextStart.
	Context      []string
	ContextStart int

	Suggestion string

	// Wrapped is the cause, reachable through errors.Is and errors.As.
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithLocation points the error at file:line and loads the surrounding
// lines when the file is readable.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	if line > 0 {
		e.Context, e.ContextStart = readContextLines(file, line, 5)
	}
	return e
}

var lineRe = regexp.MustCompile(`line (\d+)(?:, column (\d+))?`)

// WithLocationFromError points the error at file, taking the line from
// parser messages such as "yaml: line 3: ..." or "toml: line 4, column 2".
func (e *Error) WithLocationFromError(file string, err error) *Error {
	if err == nil {
		return e
	}
	line, col := 0, 0
	if m := lineRe.FindStringSubmatch(err.Error()); m != nil {
		line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			col, _ = strconv.Atoi(m[2])
		}
	}
	return e.WithLocation(file, line, col)
}

func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

func (e *Error) WithDetailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Wrap sets the cause. The detail defaults to its text.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	if e.Detail == "" && err != nil {
		e.Detail = err.Error()
	}
	return e
}

func readContextLines(filename string, target, size int) ([]string, int) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	first := max(target-size/2, 1)
	last := target + size/2
	var lines []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan() && n <= last; n++ {
		if n >= first {
			lines = append(lines, sc.Text())
		}
	}
	return lines, first
}

// New creates an error from a registered code.
func New(code string) *Error {
	t, ok := GetTemplate(code)
	if !ok {
		return &Error{Code: code, Message: "Unknown error"}
	}
	return &Error{
		Code:       code,
		Category:   t.Category,
		Message:    t.Message,
		Detail:     t.Detail,
		Suggestion: t.Suggestion,
	}
}

// Newf creates an uncoded error.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// FromError returns err when it already carries a code and wraps it in
// code otherwise.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first *Error in err's chain.
func Code(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
