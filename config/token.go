package config

import "fmt"

// TokenKind is the type of a lexed config token.
type TokenKind int

const (
	Word TokenKind = iota
	LBrace
	RBrace
	Semicolon
	Pound

	// keyword kinds
	Server
	Listen
	ServerName
	ErrorPage
	Location
	TryFiles
	BodySize
	Methods
	AutoIndex
	IndexFile
	CgiExtension
	Redirect

	EOF
)

func (k TokenKind) String() string {
	switch k {
	case Word:
		return "WORD"
	case LBrace:
		return "LBRACE"
	case RBrace:
		return "RBRACE"
	case Semicolon:
		return "SEMICOLON"
	case Pound:
		return "POUND"
	case Server:
		return "SERVER"
	case Listen:
		return "LISTEN"
	case ServerName:
		return "SERVER_NAME"
	case ErrorPage:
		return "ERROR_PAGE"
	case Location:
		return "LOCATION"
	case TryFiles:
		return "TRY_FILES"
	case BodySize:
		return "BODY_SIZE"
	case Methods:
		return "METHODS"
	case AutoIndex:
		return "AUTO_INDEX"
	case IndexFile:
		return "INDEX_FILE"
	case CgiExtension:
		return "CGI_EXTENSION"
	case Redirect:
		return "REDIRECT"
	case EOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// keywords maps a lexeme to its keyword TokenKind. Built once at package
// init; never mutated afterward (spec.md §9 calls for the lexer's keyword
// table to be a constant, not shared mutable state).
var keywords = map[string]TokenKind{
	"server":                  Server,
	"listen":                  Listen,
	"server_name":             ServerName,
	"error_page":              ErrorPage,
	"location":                Location,
	"try_files":                TryFiles,
	"body_size":               BodySize,
	"methods":                 Methods,
	"directory_listing":       AutoIndex,
	"auto_index":              AutoIndex,
	"directory_listing_file":  IndexFile,
	"index":                   IndexFile,
	"cgi_extensions":          CgiExtension,
	"redirect":                Redirect,
	"return":                  Redirect,
}

// Token is a single lexical unit with source provenance for diagnostics.
type Token struct {
	Kind   TokenKind
	Lexeme string
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d:%d", t.Kind, t.Lexeme, t.Line, t.Column)
}

// Is reports whether the token has the given kind.
func (t Token) Is(k TokenKind) bool {
	return t.Kind == k
}
