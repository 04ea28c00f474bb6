package cart

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kiwari-pos/orderflow/internal/menu"
)

// Key builds the canonical line identity: item id, every selected option as
// group:option@placement sorted lexically, then the quoted comment. Two
// selections holding the same choices produce the same key regardless of the
// order they were made in.
func Key(itemID string, sel menu.Selection, comment string) string {
	var opts []string
	for group, choices := range sel {
		for _, c := range choices {
			opts = append(opts, group+":"+c.OptionID+"@"+menu.NormalizePlacement(c.Placement))
		}
	}
	sort.Strings(opts)

	var b strings.Builder
	b.WriteString(itemID)
	b.WriteByte('|')
	b.WriteString(strings.Join(opts, ","))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(strings.TrimSpace(comment)))
	return b.String()
}
