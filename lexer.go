package sim900

import (
	"bytes"
	"strings"
)

// TokenType represents the type of a line in a captured response
type TokenType int

const (
	TokenInvalid  TokenType = iota
	TokenOK                 // OK response
	TokenError              // ERROR response
	TokenCME                // +CME ERROR response
	TokenCMS                // +CMS ERROR response
	TokenCommand            // Command echo (e.g., AT+CIFSR)
	TokenResponse           // Response line (e.g., +CDNSGIP: 1,"host","1.2.3.4")
	TokenURC                // Unsolicited Result Code
	TokenData               // Bare text such as an IP address or SHUT OK
	TokenPrompt             // > prompt for data input
	TokenEmpty              // Empty line
)

func (t TokenType) String() string {
	switch t {
	case TokenOK:
		return "OK"
	case TokenError:
		return "ERROR"
	case TokenCME:
		return "CME"
	case TokenCMS:
		return "CMS"
	case TokenCommand:
		return "Command"
	case TokenResponse:
		return "Response"
	case TokenURC:
		return "URC"
	case TokenData:
		return "Data"
	case TokenPrompt:
		return "Prompt"
	case TokenEmpty:
		return "Empty"
	default:
		return "Invalid"
	}
}

// Maximum token counts. Lines past MaxTokens are dropped by Tokenize.
const (
	MaxTokens = 16
	MaxValues = 8
)

// Token represents one line of a captured response
type Token struct {
	Type      TokenType
	Command   string            // Command name (e.g., "+CDNSGIP" from "+CDNSGIP: 1,...")
	Value     string            // Parameter text after the colon
	Values    [MaxValues]string // Comma separated values, quotes kept
	ValuesLen int               // Number of valid entries in Values
	Raw       string            // Raw line text
}

// Field returns value i with surrounding quotes removed.
func (t *Token) Field(i int) (string, bool) {
	if i < 0 || i >= t.ValuesLen {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(t.Values[i]), `"`), true
}

// Lexer splits captured response text into line tokens. It keeps its token
// storage between calls so repeated use does not allocate a new array.
type Lexer struct {
	tokens   [MaxTokens]Token
	tokenLen int
}

// NewLexer creates a new response lexer
func NewLexer() *Lexer {
	return &Lexer{}
}

// Reset clears the lexer state but keeps allocated memory
func (l *Lexer) Reset() {
	l.tokenLen = 0
}

// Tokenize splits data into tokens. A trailing line without terminator is
// still tokenized since captures end on silence, not on a line ending.
// Parsing stops at a zero byte or after MaxTokens lines, whichever comes
// first. The returned slice is reused by the next call.
func (l *Lexer) Tokenize(data []byte) []Token {
	l.tokenLen = 0
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}

	for len(data) > 0 && l.tokenLen < MaxTokens {
		var line []byte
		line, data = nextLine(data)
		if len(line) == 0 {
			l.tokens[l.tokenLen] = Token{Type: TokenEmpty}
			l.tokenLen++
			continue
		}
		l.parseLine(line)
	}
	return l.tokens[:l.tokenLen]
}

// Find returns the first token whose command matches cmd.
func (l *Lexer) Find(cmd string) (*Token, bool) {
	for i := 0; i < l.tokenLen; i++ {
		if l.tokens[i].Command == cmd {
			return &l.tokens[i], true
		}
	}
	return nil, false
}

// nextLine extracts the next line, trimming the line terminator
func nextLine(data []byte) (line, rest []byte) {
	// Special case for prompt character
	if data[0] == '>' {
		return data[:1], data[1:]
	}

	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		line, rest = data, nil
	} else {
		line, rest = data[:idx], data[idx+1:]
	}
	return bytes.TrimRight(line, "\r"), rest
}

// parseLine processes a single line into a token
func (l *Lexer) parseLine(line []byte) {
	lineStr := string(line)
	tok := Token{Raw: lineStr}

	switch {
	case lineStr == OKText:
		tok.Type = TokenOK
	case lineStr == ErrorText:
		tok.Type = TokenError
	case strings.HasPrefix(lineStr, "+CME ERROR:"):
		tok.Type = TokenCME
		tok.Value = strings.TrimSpace(lineStr[11:])
	case strings.HasPrefix(lineStr, "+CMS ERROR:"):
		tok.Type = TokenCMS
		tok.Value = strings.TrimSpace(lineStr[11:])
	case lineStr == ">":
		tok.Type = TokenPrompt
	case strings.HasPrefix(lineStr, ATPrefix):
		tok.Type = TokenCommand
		tok.Command = lineStr
	case isURC(lineStr):
		tok.Type = TokenURC
		tok.Command = lineStr
		if name, value, ok := strings.Cut(lineStr, ":"); ok {
			tok.Command = strings.TrimSpace(name)
			tok.Value = strings.TrimSpace(value)
		}
	case strings.Contains(lineStr, ":"):
		// "+COMMAND: value1,value2,..." or "STATE: IP STATUS"
		name, value, _ := strings.Cut(lineStr, ":")
		tok.Type = TokenResponse
		tok.Command = strings.TrimSpace(name)
		tok.Value = strings.TrimSpace(value)
		tok.ValuesLen = splitValues(tok.Value, &tok.Values)
	default:
		tok.Type = TokenData
	}

	l.tokens[l.tokenLen] = tok
	l.tokenLen++
}

// splitValues splits comma separated values, respecting quotes
func splitValues(s string, values *[MaxValues]string) int {
	n := 0
	inQuote := false
	from := 0
	for i := 0; i < len(s) && n < MaxValues; i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				values[n] = s[from:i]
				n++
				from = i + 1
			}
		}
	}
	if from < len(s) && n < MaxValues {
		values[n] = s[from:]
		n++
	}
	return n
}

var urcs = []string{
	CallReady, "RDY", // Boot notifications
	"+CFUN", "+CPIN", // Functionality and SIM state
	"+PDP: DEACT",                          // Bearer lost
	"CLOSED", "CONNECT OK", "CONNECT FAIL", // Single connection status
	"+CREG", "+CGREG", // Network registration
	"RING", "NO CARRIER", // Call status
}

// isURC determines if a line is an Unsolicited Result Code. Multiplexed
// status lines such as "3, CLOSED" are matched by suffix.
func isURC(line string) bool {
	for _, urc := range urcs {
		if line == urc || strings.HasPrefix(line, urc+":") || strings.HasPrefix(line, urc+" ") {
			return true
		}
		if strings.HasSuffix(line, ", "+urc) {
			return true
		}
	}
	return false
}
