package fetch

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var charsetRe = regexp.MustCompile(`(?i)charset=([^;\s]+)`)

// fallbackEncodings covers the encodings commonly seen on feeds that declare
// nothing, or declare wrongly.
var fallbackEncodings = []encoding.Encoding{
	charmap.ISO8859_1,
	charmap.Windows1252,
	simplifiedchinese.GBK,
	simplifiedchinese.HZGB2312,
	traditionalchinese.Big5,
}

// decodeBody turns raw response bytes into a string: the declared charset
// first, then common fallbacks, and finally UTF-8 with replacement runes
// rather than failing.
func decodeBody(raw []byte, contentType string) string {
	if m := charsetRe.FindStringSubmatch(contentType); m != nil {
		name := strings.Trim(m[1], `"'`)
		if enc, err := htmlindex.Get(name); err == nil && enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	if utf8.Valid(raw) {
		return string(raw)
	}

	for _, enc := range fallbackEncodings {
		if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}

	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
