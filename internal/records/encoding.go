package records

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// decodeText returns data as UTF-8 together with the encoding it was read
// in. UTF-16 needs a byte order mark; other text that is not valid UTF-8
// is read as Windows-1252, the usual encoding of spreadsheet CSV exports.
// Binary data is rejected.
func decodeText(data []byte) ([]byte, string, error) {
	var dec *encoding.Decoder
	name := "utf-8"
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return data[len(utf8BOM):], name, nil
	case bytes.HasPrefix(data, utf16LEBOM), bytes.HasPrefix(data, utf16BEBOM):
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		name = "utf-16"
	case bytes.IndexByte(data, 0) >= 0:
		return nil, "", fmt.Errorf("%w: unrecognized document format", ErrSchema)
	case utf8.Valid(data):
		return data, name, nil
	default:
		dec = charmap.Windows1252.NewDecoder()
		name = "windows-1252"
	}

	out, err := dec.Bytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode %s text: %v", ErrSchema, name, err)
	}
	return out, name, nil
}
