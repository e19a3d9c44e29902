package crisis

import (
	"reflect"
	"strings"
	"testing"

	"github.com/antibyte/crisisroom/pkg/grid"
)

// TestTokenizeIsIdempotent tests that tokenizing twice gives identical tokens
func TestTokenizeIsIdempotent(t *testing.T) {
	src := "# setup\nfor i in range(3):\n    move('right')\n    if bug_nearby('up'):\n        attack(\"up\")\n\nwait()\njump()\n"

	first, err := Tokenize(src)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	second, err := Tokenize(src)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("tokenizing the same source twice produced different tokens")
	}
	if len(first) != 6 {
		t.Fatalf("expected 6 tokens, got %d", len(first))
	}
}

func TestTokenizeCommands(t *testing.T) {
	tests := []struct {
		line string
		kind TokenKind
		dir  grid.Direction
		item string
	}{
		{"move('right')", TokenMove, grid.Right, ""},
		{"move(\"LEFT\")", TokenMove, grid.Left, ""},
		{"move(up)", TokenMove, grid.Up, ""},
		{"attack( 'down' )", TokenAttack, grid.Down, ""},
		{"scan()", TokenScan, 0, ""},
		{"wait( )", TokenWait, 0, ""},
		{"collect()  # grab it", TokenCollect, 0, ""},
		{"use_item('health_pack')", TokenUseItem, 0, "health_pack"},
		{"use_item(energy_boost)", TokenUseItem, 0, "energy_boost"},
	}

	for _, tt := range tests {
		tokens, err := Tokenize(tt.line)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.line, err)
			continue
		}
		if len(tokens) != 1 {
			t.Errorf("%q: expected one token, got %d", tt.line, len(tokens))
			continue
		}
		tok := tokens[0]
		if tok.Kind != tt.kind || tok.Direction != tt.dir || tok.Item != tt.item {
			t.Errorf("%q: got kind=%s dir=%s item=%q", tt.line, tok.Kind, tok.Direction, tok.Item)
		}
	}
}

func TestTokenizeSyntaxErrors(t *testing.T) {
	bad := []string{
		"jump()",
		"move('north')",
		"move('up'",
		"move('up\")",
		"scan(1)",
		"use_item()",
		"move('up') extra",
		"print hello",
	}
	for _, line := range bad {
		tokens, err := Tokenize("wait()\n" + line)
		if err != nil {
			t.Errorf("%q: syntax errors must not abort tokenizing, got %v", line, err)
			continue
		}
		tok := tokens[1]
		if tok.Kind != TokenError {
			t.Errorf("%q: expected error token, got %s", line, tok.Kind)
			continue
		}
		want := "Syntax error on line 2: " + line
		if tok.Message != want {
			t.Errorf("%q: message %q, want %q", line, tok.Message, want)
		}
	}
}

func TestTokenizeHeaders(t *testing.T) {
	tokens, err := Tokenize(strings.Join([]string{
		"for step in range(4):",
		"while can_move('right'):  # walk",
		"if energy >= 10:",
		"elif health_low():",
		"else :",
	}, "\n"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}

	if tokens[0].Kind != TokenFor || tokens[0].Variable != "step" || tokens[0].Count != 4 {
		t.Errorf("bad for token %+v", tokens[0])
	}
	if tokens[1].Kind != TokenWhile || tokens[1].Condition != "can_move('right')" {
		t.Errorf("bad while token %+v", tokens[1])
	}
	if tokens[2].Kind != TokenIf || tokens[2].Condition != "energy >= 10" {
		t.Errorf("bad if token %+v", tokens[2])
	}
	if tokens[3].Kind != TokenElif || tokens[3].Condition != "health_low()" {
		t.Errorf("bad elif token %+v", tokens[3])
	}
	if tokens[4].Kind != TokenElse {
		t.Errorf("bad else token %+v", tokens[4])
	}
}

func TestTokenizeParseErrors(t *testing.T) {
	bad := []string{
		"for i in range(x):",
		"for i in range(-2):",
		"for i in range(3)",
		"for in range(3):",
		"for i in items:",
		"while True",
		"if :",
		"else",
	}
	for _, src := range bad {
		_, err := Tokenize(src)
		if !IsCategory(err, ErrCategoryParse) {
			t.Errorf("%q: expected parse error, got %v", src, err)
			continue
		}
		if !strings.HasPrefix(err.Error(), "Parse Error: ") {
			t.Errorf("%q: unexpected message %q", src, err.Error())
		}
	}
}

func TestTokenizeIndentation(t *testing.T) {
	tests := []struct {
		line   string
		indent int
	}{
		{"move('up')", 0},
		{"   move('up')", 0},
		{"    move('up')", 1},
		{"\tmove('up')", 1},
		{"  \tmove('up')", 1},
		{"    \tmove('up')", 2},
		{"\t\t  move('up')", 2},
		{"            move('up')", 3},
	}
	for _, tt := range tests {
		tokens, err := Tokenize(tt.line)
		if err != nil {
			t.Fatalf("%q: %v", tt.line, err)
		}
		if tokens[0].Indent != tt.indent {
			t.Errorf("%q: indent %d, want %d", tt.line, tokens[0].Indent, tt.indent)
		}
	}

	tokens, err := TokenizeWithTabs("\tmove('up')", 8)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Indent != 2 {
		t.Errorf("with 8-column tabs expected indent 2, got %d", tokens[0].Indent)
	}
}

func TestTokenizeSkipsBlankAndCommentLines(t *testing.T) {
	tokens, err := Tokenize("\n   \n# comment\n    # indented comment\r\nscan()\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0].Line != 5 {
		t.Errorf("expected a single token on line 5, got %+v", tokens)
	}
}
