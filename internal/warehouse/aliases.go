package warehouse

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stocktracker/internal/util"
)

// AliasTable collapses known synonym spellings of warehouse names to one
// canonical value. Built once per run and immutable afterwards.
type AliasTable struct {
	canonical map[string]string // normalized variant -> canonical display name
}

// builtinAliases maps a canonical warehouse name to the raw spellings the two
// feeds are known to use for it. Parenthetical district forms and bare
// district names collapse into the canonical city entry.
var builtinAliases = map[string][]string{
	"Санкт-Петербург (Уткина Заводь)": {
		"Санкт-Петербург Уткина Заводь",
		"СПБ Уткина Заводь",
		"Уткина Заводь",
	},
	"Санкт-Петербург (Шушары)": {
		"Санкт-Петербург Шушары",
		"Шушары",
	},
	"Екатеринбург": {
		"Екатеринбург - Испытателей 14г",
		"Екатеринбург - Перспективный 12",
	},
	"Казань": {
		"Казань (Зеленодольск)",
		"Зеленодольск",
	},
	"Новосибирск": {
		"Новосибирск Пасечная",
	},
	"Коледино":     {},
	"Электросталь": {},
	"Краснодар": {
		"Краснодар (Тихорецкая)",
		"Тихорецкая",
	},
}

type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// BuildAliasTable assembles the built-in table and, when path is non-empty,
// overlays alias groups from a YAML file. Overlay entries win on conflict.
func BuildAliasTable(path string) (*AliasTable, error) {
	table := &AliasTable{canonical: map[string]string{}}
	table.add(builtinAliases)

	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var file aliasFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	table.add(file.Aliases)

	return table, nil
}

func (t *AliasTable) add(groups map[string][]string) {
	for canonical, variants := range groups {
		// The canonical spelling maps to itself so equivalent raw names
		// can never fragment into separate rows.
		t.canonical[util.NormalizeName(canonical)] = canonical
		for _, variant := range variants {
			t.canonical[util.NormalizeName(variant)] = canonical
		}
	}
}

// Canonical resolves an already-normalized name to its canonical display
// form. The second return is false when the table has no entry.
func (t *AliasTable) Canonical(normalized string) (string, bool) {
	name, ok := t.canonical[normalized]
	return name, ok
}
