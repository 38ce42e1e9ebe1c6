package node

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Site is one atom of a structure, position in Ångström.
type Site struct {
	Symbol   string     `json:"symbol" yaml:"symbol"`
	Position [3]float64 `json:"position" yaml:"position"`
}

// Structure is a crystal or film geometry.
type Structure struct {
	Cell  [3][3]float64 `json:"cell" yaml:"cell"`
	PBC   [3]bool       `json:"pbc" yaml:"pbc"`
	Sites []Site        `json:"sites" yaml:"sites"`
}

func (s *Structure) Validate() error {
	if len(s.Sites) == 0 {
		return errors.New("no sites")
	}
	for i, site := range s.Sites {
		if site.Symbol == "" {
			return fmt.Errorf("site %d has no symbol", i)
		}
	}
	return nil
}

// Formula returns the compact formula in Hill order: carbon then hydrogen
// when carbon is present, every other element alphabetically.
func (s *Structure) Formula() string {
	counts := make(map[string]int)
	for _, site := range s.Sites {
		counts[site.Symbol]++
	}
	symbols := make([]string, 0, len(counts))
	for sym := range counts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	if _, ok := counts["C"]; ok {
		ordered := []string{"C"}
		if _, ok := counts["H"]; ok {
			ordered = append(ordered, "H")
		}
		for _, sym := range symbols {
			if sym != "C" && sym != "H" {
				ordered = append(ordered, sym)
			}
		}
		symbols = ordered
	}

	var b strings.Builder
	for _, sym := range symbols {
		b.WriteString(sym)
		if n := counts[sym]; n > 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}
