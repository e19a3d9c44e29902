package crisis

import (
	"strings"

	"github.com/antibyte/crisisroom/pkg/grid"
)

// IndentWidth is the number of columns per indentation level.
const IndentWidth = 4

// DefaultTabWidth is the tab stop used when none is configured.
const DefaultTabWidth = 4

// TokenKind classifies one source line.
type TokenKind int

const (
	TokenMove TokenKind = iota
	TokenAttack
	TokenScan
	TokenWait
	TokenCollect
	TokenUseItem
	TokenFor
	TokenWhile
	TokenIf
	TokenElif
	TokenElse
	TokenError
)

var tokenKindNames = [...]string{
	TokenMove:    "move",
	TokenAttack:  "attack",
	TokenScan:    "scan",
	TokenWait:    "wait",
	TokenCollect: "collect",
	TokenUseItem: "use_item",
	TokenFor:     "for_loop",
	TokenWhile:   "while_loop",
	TokenIf:      "if_statement",
	TokenElif:    "elif_statement",
	TokenElse:    "else_statement",
	TokenError:   "error",
}

func (k TokenKind) String() string {
	if k < TokenMove || k > TokenError {
		return "unknown"
	}
	return tokenKindNames[k]
}

// Token is one classified source line. Only the payload fields that
// belong to Kind are set.
type Token struct {
	Kind   TokenKind
	Indent int
	Line   int
	Text   string

	Direction grid.Direction
	Item      string
	Variable  string
	Count     int
	Condition string
	Message   string
}

// Tokenize splits source into tokens using the default tab width.
func Tokenize(source string) ([]Token, error) {
	return TokenizeWithTabs(source, DefaultTabWidth)
}

// TokenizeWithTabs splits source into tokens. Blank lines and lines
// starting with # are dropped. A tab advances the indentation column to
// the next multiple of tabWidth. Malformed control headers are returned
// as a parse error; unrecognised commands become TokenError tokens.
func TokenizeWithTabs(source string, tabWidth int) ([]Token, error) {
	if tabWidth <= 0 {
		tabWidth = DefaultTabWidth
	}

	var tokens []Token
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		lineNumber := i + 1
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		tok, err := classify(text, lineNumber)
		if err != nil {
			return nil, err
		}
		tok.Indent = indentColumns(raw, tabWidth) / IndentWidth
		tok.Line = lineNumber
		tok.Text = text
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func indentColumns(line string, tabWidth int) int {
	col := 0
	for _, r := range line {
		switch r {
		case ' ':
			col++
		case '\t':
			col += tabWidth - col%tabWidth
		default:
			return col
		}
	}
	return col
}

var controlKeywords = map[string]TokenKind{
	"for":   TokenFor,
	"while": TokenWhile,
	"if":    TokenIf,
	"elif":  TokenElif,
	"else":  TokenElse,
}

func classify(text string, line int) (Token, error) {
	code := strings.TrimSpace(stripComment(text))

	sc := &scanner{s: code}
	word := sc.ident()
	if kind, ok := controlKeywords[word]; ok && !sc.peekIdentChar() {
		return parseHeader(kind, sc, line)
	}
	return parseCommand(code, text, line), nil
}

func parseHeader(kind TokenKind, sc *scanner, line int) (Token, error) {
	switch kind {
	case TokenFor:
		sc.skipSpace()
		variable := sc.ident()
		if variable == "" {
			return Token{}, newParseError(line, "missing loop variable in for statement on line %d", line)
		}
		if _, reserved := controlKeywords[variable]; reserved {
			return Token{}, newParseError(line, "%q cannot be used as a loop variable on line %d", variable, line)
		}
		sc.skipSpace()
		if sc.ident() != "in" {
			return Token{}, newParseError(line, "expected 'in' after loop variable on line %d", line)
		}
		sc.skipSpace()
		if sc.ident() != "range" {
			return Token{}, newParseError(line, "for loops must iterate over range() on line %d", line)
		}
		sc.skipSpace()
		if !sc.consume('(') {
			return Token{}, newParseError(line, "expected '(' after range on line %d", line)
		}
		sc.skipSpace()
		count, ok := sc.integer()
		sc.skipSpace()
		if !ok || !sc.consume(')') {
			return Token{}, newParseError(line, "invalid range() argument on line %d, expected a whole number", line)
		}
		sc.skipSpace()
		if !sc.consume(':') || !sc.atEnd() {
			return Token{}, newParseError(line, "expected ':' at the end of the for statement on line %d", line)
		}
		return Token{Kind: TokenFor, Variable: variable, Count: count}, nil

	case TokenElse:
		sc.skipSpace()
		if !sc.consume(':') || !sc.atEnd() {
			return Token{}, newParseError(line, "expected 'else:' on line %d", line)
		}
		return Token{Kind: TokenElse}, nil
	}

	keyword := tokenKeyword(kind)
	rest := strings.TrimSpace(sc.rest())
	if !strings.HasSuffix(rest, ":") {
		return Token{}, newParseError(line, "expected ':' at the end of the %s statement on line %d", keyword, line)
	}
	cond := strings.TrimSpace(strings.TrimSuffix(rest, ":"))
	if cond == "" {
		return Token{}, newParseError(line, "missing condition in %s statement on line %d", keyword, line)
	}
	return Token{Kind: kind, Condition: cond}, nil
}

func tokenKeyword(kind TokenKind) string {
	for word, k := range controlKeywords {
		if k == kind {
			return word
		}
	}
	return kind.String()
}

var simpleCommands = map[string]TokenKind{
	"scan":    TokenScan,
	"wait":    TokenWait,
	"collect": TokenCollect,
}

// parseCommand recognises the leaf commands; anything else becomes an
// error token that halts the program once it is reached.
func parseCommand(code, text string, line int) Token {
	name, arg, ok := parseCall(code)
	if !ok {
		return syntaxErrorToken(text, line)
	}

	switch name {
	case "move", "attack":
		dir, err := grid.ParseDirection(arg)
		if err != nil {
			return syntaxErrorToken(text, line)
		}
		kind := TokenMove
		if name == "attack" {
			kind = TokenAttack
		}
		return Token{Kind: kind, Direction: dir}
	case "scan", "wait", "collect":
		if arg != "" {
			return syntaxErrorToken(text, line)
		}
		return Token{Kind: simpleCommands[name]}
	case "use_item":
		if arg == "" {
			return syntaxErrorToken(text, line)
		}
		return Token{Kind: TokenUseItem, Item: arg}
	}
	return syntaxErrorToken(text, line)
}

func syntaxErrorToken(text string, line int) Token {
	return Token{Kind: TokenError, Message: newSyntaxError(line, text).Message}
}

// parseCall matches name(arg) where arg is empty, a bare word or a
// single- or double-quoted string.
func parseCall(s string) (name, arg string, ok bool) {
	sc := &scanner{s: s}
	name = sc.ident()
	if name == "" {
		return "", "", false
	}
	sc.skipSpace()
	if !sc.consume('(') {
		return "", "", false
	}
	sc.skipSpace()

	switch c := sc.peek(); {
	case c == '\'' || c == '"':
		sc.pos++
		end := strings.IndexByte(sc.s[sc.pos:], c)
		if end < 0 {
			return "", "", false
		}
		arg = sc.s[sc.pos : sc.pos+end]
		if arg == "" {
			return "", "", false
		}
		sc.pos += end + 1
	case c != ')':
		arg = sc.word()
		if arg == "" {
			return "", "", false
		}
	}

	sc.skipSpace()
	if !sc.consume(')') {
		return "", "", false
	}
	sc.skipSpace()
	return name, arg, sc.atEnd()
}

// stripComment cuts a trailing # comment that is not inside quotes.
func stripComment(s string) string {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return s[:i]
		}
	}
	return s
}

// scanner walks a single line of code.
type scanner struct {
	s   string
	pos int
}

func (sc *scanner) atEnd() bool { return sc.pos >= len(sc.s) }

func (sc *scanner) peek() byte {
	if sc.atEnd() {
		return 0
	}
	return sc.s[sc.pos]
}

func (sc *scanner) rest() string { return sc.s[sc.pos:] }

func (sc *scanner) skipSpace() {
	for !sc.atEnd() && (sc.s[sc.pos] == ' ' || sc.s[sc.pos] == '\t') {
		sc.pos++
	}
}

func (sc *scanner) consume(c byte) bool {
	if sc.peek() != c || sc.atEnd() {
		return false
	}
	sc.pos++
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (sc *scanner) peekIdentChar() bool {
	return !sc.atEnd() && isIdentChar(sc.s[sc.pos])
}

func (sc *scanner) ident() string {
	if sc.atEnd() || !isIdentStart(sc.s[sc.pos]) {
		return ""
	}
	start := sc.pos
	for !sc.atEnd() && isIdentChar(sc.s[sc.pos]) {
		sc.pos++
	}
	return sc.s[start:sc.pos]
}

// word reads a bare argument: letters, digits, underscores and dashes.
func (sc *scanner) word() string {
	start := sc.pos
	for !sc.atEnd() && (isIdentChar(sc.s[sc.pos]) || sc.s[sc.pos] == '-') {
		sc.pos++
	}
	return sc.s[start:sc.pos]
}

// integer reads an unsigned decimal number.
func (sc *scanner) integer() (int, bool) {
	start := sc.pos
	n := 0
	for !sc.atEnd() && sc.s[sc.pos] >= '0' && sc.s[sc.pos] <= '9' {
		n = n*10 + int(sc.s[sc.pos]-'0')
		if n > 1_000_000_000 {
			return 0, false
		}
		sc.pos++
	}
	return n, sc.pos > start
}
