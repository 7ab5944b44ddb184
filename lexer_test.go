package sim900

import (
	"testing"
)

// Helper function to convert slice to fixed array for tests
func makeTestValues(values []string) ([MaxValues]string, int) {
	var result [MaxValues]string
	length := 0
	for i, v := range values {
		if i < MaxValues {
			result[i] = v
			length++
		}
	}
	return result, length
}

// Helper function to compare tokens
func compareToken(t *testing.T, got Token, want Token, index int) {
	t.Helper()
	if got.Type != want.Type {
		t.Errorf("token %d: Type = %v, want %v", index, got.Type, want.Type)
	}
	if got.Command != want.Command {
		t.Errorf("token %d: Command = %q, want %q", index, got.Command, want.Command)
	}
	if got.Value != want.Value {
		t.Errorf("token %d: Value = %q, want %q", index, got.Value, want.Value)
	}
	if got.Raw != want.Raw {
		t.Errorf("token %d: Raw = %q, want %q", index, got.Raw, want.Raw)
	}
	if got.ValuesLen != want.ValuesLen {
		t.Errorf("token %d: ValuesLen = %d, want %d", index, got.ValuesLen, want.ValuesLen)
		return
	}
	for i := 0; i < got.ValuesLen; i++ {
		if got.Values[i] != want.Values[i] {
			t.Errorf("token %d: Values[%d] = %q, want %q", index, i, got.Values[i], want.Values[i])
		}
	}
}

func TestLexer_Tokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
		values   map[int][]string
	}{
		{
			name:  "Simple OK response",
			input: "OK\r\n",
			expected: []Token{
				{Type: TokenOK, Raw: "OK"},
			},
		},
		{
			name:  "CME Error response",
			input: "+CME ERROR: 10\r\n",
			expected: []Token{
				{Type: TokenCME, Value: "10", Raw: "+CME ERROR: 10"},
			},
		},
		{
			name:  "Bare IP address",
			input: "\r\n10.0.0.5\r\n",
			expected: []Token{
				{Type: TokenEmpty},
				{Type: TokenData, Raw: "10.0.0.5"},
			},
		},
		{
			name:  "DNS result after OK",
			input: "\r\nOK\r\n\r\n+CDNSGIP: 1,\"example.com\",\"93.184.216.34\"\r\n",
			expected: []Token{
				{Type: TokenEmpty},
				{Type: TokenOK, Raw: "OK"},
				{Type: TokenEmpty},
				{Type: TokenResponse, Command: "+CDNSGIP", Value: "1,\"example.com\",\"93.184.216.34\"",
					Raw: "+CDNSGIP: 1,\"example.com\",\"93.184.216.34\""},
			},
			values: map[int][]string{3: {"1", "\"example.com\"", "\"93.184.216.34\""}},
		},
		{
			name:  "Status line",
			input: "OK\r\n\r\nSTATE: IP STATUS\r\n",
			expected: []Token{
				{Type: TokenOK, Raw: "OK"},
				{Type: TokenEmpty},
				{Type: TokenResponse, Command: "STATE", Value: "IP STATUS", Raw: "STATE: IP STATUS"},
			},
			values: map[int][]string{2: {"IP STATUS"}},
		},
		{
			name:  "Boot notifications",
			input: "RDY\r\n\r\n+CFUN: 1\r\n\r\nCall Ready\r\n",
			expected: []Token{
				{Type: TokenURC, Command: "RDY", Raw: "RDY"},
				{Type: TokenEmpty},
				{Type: TokenURC, Command: "+CFUN", Value: "1", Raw: "+CFUN: 1"},
				{Type: TokenEmpty},
				{Type: TokenURC, Command: "Call Ready", Raw: "Call Ready"},
			},
		},
		{
			name:  "Multiplexed connection status",
			input: "3, CONNECT OK\r\n",
			expected: []Token{
				{Type: TokenURC, Command: "3, CONNECT OK", Raw: "3, CONNECT OK"},
			},
		},
		{
			name:  "Echo, data and no terminator",
			input: "AT+CIFSR\r\r\n10.0.0.5",
			expected: []Token{
				{Type: TokenCommand, Command: "AT+CIFSR", Raw: "AT+CIFSR"},
				{Type: TokenData, Raw: "10.0.0.5"},
			},
		},
		{
			name:  "Data input prompt",
			input: ">",
			expected: []Token{
				{Type: TokenPrompt, Raw: ">"},
			},
		},
		{
			name:  "Stops at terminator byte",
			input: "SHUT OK\r\n\x00OK\r\n",
			expected: []Token{
				{Type: TokenData, Raw: "SHUT OK"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for i, v := range tc.values {
				tc.expected[i].Values, tc.expected[i].ValuesLen = makeTestValues(v)
			}

			lexer := NewLexer()
			result := lexer.Tokenize([]byte(tc.input))
			if len(result) != len(tc.expected) {
				t.Fatalf("got %d tokens, want %d: %+v", len(result), len(tc.expected), result)
			}
			for i := range result {
				compareToken(t, result[i], tc.expected[i], i)
			}
		})
	}
}

func TestLexer_FindAndField(t *testing.T) {
	lexer := NewLexer()
	lexer.Tokenize([]byte("OK\r\n+CDNSGIP: 1,\"example.com\",\"1.1.1.1\",\"1.0.0.1\"\r\n"))

	tok, ok := lexer.Find("+CDNSGIP")
	if !ok {
		t.Fatal("Find() did not locate +CDNSGIP")
	}
	for i, want := range []string{"1", "example.com", "1.1.1.1", "1.0.0.1"} {
		if got, ok := tok.Field(i); !ok || got != want {
			t.Errorf("Field(%d) = %q, %v, want %q", i, got, ok, want)
		}
	}
	if _, ok := tok.Field(4); ok {
		t.Error("Field(4) reported a value past the end")
	}
	if _, ok := lexer.Find("STATE"); ok {
		t.Error("Find() located a missing command")
	}
}

func TestLexer_Reset(t *testing.T) {
	lexer := NewLexer()
	tokens := lexer.Tokenize([]byte("+CGATT: 1\r\nOK\r\n"))
	if len(tokens) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(tokens))
	}

	lexer.Reset()
	if lexer.tokenLen != 0 {
		t.Errorf("Token count not reset: count=%d", lexer.tokenLen)
	}
	if _, ok := lexer.Find("+CGATT"); ok {
		t.Error("Find() still sees tokens after Reset")
	}

	tokens = lexer.Tokenize([]byte("ERROR\r\n"))
	if len(tokens) != 1 || tokens[0].Type != TokenError {
		t.Errorf("Expected one ERROR token after reset, got %+v", tokens)
	}
}

func TestLexer_TokenLimit(t *testing.T) {
	var input []byte
	for i := 0; i < MaxTokens+4; i++ {
		input = append(input, "OK\r\n"...)
	}
	if got := len(NewLexer().Tokenize(input)); got != MaxTokens {
		t.Errorf("got %d tokens, want %d", got, MaxTokens)
	}
}
