package core

// LoadPriority lists file types in dependency order: lookup and parent
// tables first, tables that reference them after.
var LoadPriority = []string{
	"HEADER",
	"STATE_CODE",
	"COUNTRY_CODE",
	"ABSTRACT_SUBDV",
	"AGENT",
	"ENTITY",
	"ENTITY_TOTALS",
	"INFO",
	"ENTITY_INFO",
	"LAND_DETAIL",
	"IMPROVEMENT_INFO",
	"IMPROVEMENT_DETAIL",
	"IMPROVEMENT_DETAIL_ATTR",
	"LAWSUIT",
	"MOBILE_HOME_INFO",
	"TAX_DEFERRAL_INFO",
	"UDI",
}

// loadTiers groups LoadPriority into sets with no dependencies between
// members. Tiers run in order; members of a tier may run concurrently.
var loadTiers = [][]string{
	{"HEADER", "STATE_CODE", "COUNTRY_CODE", "ABSTRACT_SUBDV", "AGENT", "ENTITY"},
	{"ENTITY_TOTALS", "INFO"},
	{"ENTITY_INFO", "LAND_DETAIL", "IMPROVEMENT_INFO"},
	{"IMPROVEMENT_DETAIL"},
	{"IMPROVEMENT_DETAIL_ATTR"},
	{"LAWSUIT", "MOBILE_HOME_INFO", "TAX_DEFERRAL_INFO", "UDI"},
}

// OrderFileTypes returns fileTypes with known types in LoadPriority order
// followed by the rest in their given order. Duplicates are removed.
func OrderFileTypes(fileTypes []string) []string {
	want := make(map[string]bool, len(fileTypes))
	for _, ft := range fileTypes {
		want[ft] = true
	}

	ordered := make([]string, 0, len(want))
	for _, ft := range LoadPriority {
		if want[ft] {
			ordered = append(ordered, ft)
			delete(want, ft)
		}
	}
	for _, ft := range fileTypes {
		if want[ft] {
			ordered = append(ordered, ft)
			delete(want, ft)
		}
	}
	return ordered
}

// Tiers splits fileTypes into dependency tiers. Types outside LoadPriority
// form a final tier. Empty tiers are omitted and the order within each tier
// follows OrderFileTypes.
func Tiers(fileTypes []string) [][]string {
	tierOf := make(map[string]int)
	for i, tier := range loadTiers {
		for _, ft := range tier {
			tierOf[ft] = i
		}
	}

	buckets := make([][]string, len(loadTiers)+1)
	for _, ft := range OrderFileTypes(fileTypes) {
		i, ok := tierOf[ft]
		if !ok {
			i = len(loadTiers)
		}
		buckets[i] = append(buckets[i], ft)
	}

	var tiers [][]string
	for _, b := range buckets {
		if len(b) > 0 {
			tiers = append(tiers, b)
		}
	}
	return tiers
}
