// Package renderer formats tax lot reports as markdown.
package renderer

import (
	"bytes"
	"io"
	"strings"

	"github.com/etnz/taxlot"
)

// ConditionalBlock let you fully write a block and decide at the end to print it or not.
// If the block function returns true, the content is printed to w, otherwise it is discarded.
func ConditionalBlock(w io.Writer, block func(io.Writer) bool) {
	bw := &bytes.Buffer{}
	if block(bw) {
		io.Copy(w, bw)
	}
}

// cell escapes text for a table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// loss prints a positive loss amount as a negative one.
func loss(m taxlot.Money) string { return m.Neg().SignedString() }
