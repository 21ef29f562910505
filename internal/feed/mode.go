package feed

import (
	"fmt"

	"chainlens/internal/domain"
)

type modeKind int

const (
	modeLatest modeKind = iota
	modeSearch
	modeFilter
)

// Mode selects which view of the transaction feed a synchronizer tracks.
// Construct values with Latest, Search or Filter; the zero value is Latest.
type Mode struct {
	kind     modeKind
	query    string
	category domain.Category
}

func Latest() Mode {
	return Mode{kind: modeLatest}
}

func Search(query string) Mode {
	return Mode{kind: modeSearch, query: query}
}

func Filter(category domain.Category) Mode {
	return Mode{kind: modeFilter, category: category}
}

func (m Mode) IsLatest() bool { return m.kind == modeLatest }

func (m Mode) Query() (string, bool) {
	return m.query, m.kind == modeSearch
}

func (m Mode) Category() (domain.Category, bool) {
	return m.category, m.kind == modeFilter
}

func (m Mode) String() string {
	switch m.kind {
	case modeSearch:
		return fmt.Sprintf("search(%s)", m.query)
	case modeFilter:
		return fmt.Sprintf("filter(%s)", m.category)
	default:
		return "latest"
	}
}
