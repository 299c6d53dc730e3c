package warehouse

import (
	"strings"

	"stocktracker/internal"
	"stocktracker/internal/util"
)

// Normalizer maps raw warehouse name strings to canonical identities and
// classifies the virtual and in-transit pools. Normalize is deterministic:
// the same raw name always yields the same canonical warehouse within and
// across runs.
type Normalizer struct {
	aliases *AliasTable
	log     *internal.AnomalyLog
}

func NewNormalizer(aliases *AliasTable, log *internal.AnomalyLog) *Normalizer {
	return &Normalizer{aliases: aliases, log: log}
}

// Fixed spellings the feeds use for non-physical pools. Matched on the
// normalized form, by prefix, so suffixed variants classify the same way.
var virtualPatterns = []struct {
	prefix string
	class  internal.WarehouseClass
}{
	{prefix: "МАРКЕТПЛЕЙС", class: internal.ClassVirtualPool},
	{prefix: "СКЛАД ПРОДАВЦА", class: internal.ClassVirtualPool},
	{prefix: "В ПУТИ ДО ПОЛУЧАТЕЛ", class: internal.ClassTransitToClient},
	{prefix: "В ПУТИ ОТ ПОЛУЧАТЕЛ", class: internal.ClassTransitFromClient},
	{prefix: "В ПУТИ ВОЗВРАТ", class: internal.ClassTransitReturn},
}

func (n *Normalizer) Normalize(rawName string) internal.CanonicalWarehouse {
	normalized := util.NormalizeName(rawName)
	if normalized == "" {
		normalized = "БЕЗ СКЛАДА"
	}

	for _, p := range virtualPatterns {
		if strings.HasPrefix(normalized, p.prefix) {
			return internal.CanonicalWarehouse{
				Key:   util.NormalizeName(p.prefix),
				Name:  canonicalVirtualName(p.class),
				Class: p.class,
				Known: true,
			}
		}
	}

	if canonical, ok := n.aliases.Canonical(normalized); ok {
		return internal.CanonicalWarehouse{
			Key:   util.NormalizeName(canonical),
			Name:  canonical,
			Class: internal.ClassReal,
			Known: true,
		}
	}

	// A parenthetical district form whose base city is in the table
	// collapses into the city entry even without an explicit alias.
	if stripped := util.NormalizeName(util.StripParenthetical(rawName)); stripped != "" && stripped != normalized {
		if canonical, ok := n.aliases.Canonical(stripped); ok {
			return internal.CanonicalWarehouse{
				Key:   util.NormalizeName(canonical),
				Name:  canonical,
				Class: internal.ClassReal,
				Known: true,
			}
		}
	}

	// Unmapped names pass through as their own canonical value; they are
	// flagged for alias-table review, never dropped.
	if n.log != nil {
		n.log.Record(internal.AnomalyUnknownWarehouse, "no alias entry for warehouse %q", strings.TrimSpace(rawName))
	}
	return internal.CanonicalWarehouse{
		Key:   normalized,
		Name:  strings.TrimSpace(rawName),
		Class: internal.ClassReal,
		Known: false,
	}
}

func canonicalVirtualName(class internal.WarehouseClass) string {
	switch class {
	case internal.ClassVirtualPool:
		return "Маркетплейс"
	case internal.ClassTransitToClient:
		return "В пути до получателей"
	case internal.ClassTransitFromClient:
		return "В пути от получателей"
	case internal.ClassTransitReturn:
		return "В пути возвраты"
	default:
		return string(class)
	}
}
