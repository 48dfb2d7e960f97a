package theme

import (
	"os"
	"strings"
)

// SymbolSet holds the glyphs used by the chat, so ASCII terminals get a
// readable fallback.
type SymbolSet struct {
	Error    string
	Search   string
	Ellipsis string
	User     string
	Bot      string
}

var unicodeSymbols = SymbolSet{
	Error:    "✗",
	Search:   "⌕",
	Ellipsis: "…",
	User:     "You",
	Bot:      "Assistant",
}

var asciiSymbols = SymbolSet{
	Error:    "[ERR]",
	Search:   "[?]",
	Ellipsis: "...",
	User:     "You",
	Bot:      "Assistant",
}

// DetectUnicodeSupport reports whether the terminal likely renders Unicode.
// SEARCHCHAT_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("SEARCHCHAT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	return true
}

// InitSymbols sets the Symbol* variables for the current terminal.
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}
	SymbolError = set.Error
	SymbolSearch = set.Search
	SymbolEllipsis = set.Ellipsis
	SymbolUser = set.User
	SymbolBot = set.Bot
}

func init() {
	InitSymbols()
}
