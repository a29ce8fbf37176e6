package domain

// Card is reference card data from the catalog service.
// The pipeline only reads cards, it never mutates them.
type Card struct {
	ID         string // catalog card ID
	Name       string
	SetID      string
	SetName    string
	Number     string // card number within the set
	Rarity     string
	ImageSmall string
	ImageLarge string
	UpdatedAt  int64 // Unix timestamp in milliseconds
}

// Era buckets sets for filtering. Names mirror the reference catalog's
// classification of set eras.
type Era string

const (
	EraVintage     Era = "wotc_vintage"
	EraEX          Era = "ex_era"
	EraModernChase Era = "modern_chase"
)

// SetEras maps an era to the set names it contains.
var SetEras = map[Era][]string{
	EraVintage: {
		"Base Set", "Jungle", "Fossil", "Team Rocket",
		"Gym Heroes", "Gym Challenge",
		"Neo Genesis", "Neo Discovery", "Neo Revelation", "Neo Destiny",
	},
	EraEX: {
		"Ruby & Sapphire", "Sandstorm", "Dragon",
		"Team Magma vs Team Aqua", "Hidden Legends", "FireRed & LeafGreen",
	},
	EraModernChase: {
		"Scarlet & Violet", "Paldea Evolved", "Obsidian Flames", "151",
		"Paradox Rift", "Paldean Fates", "Temporal Forces",
		"Twilight Masquerade", "Shrouded Fable", "Stellar Crown",
		"Surging Sparks", "Prismatic Evolutions",
	},
}

// EraOf returns the era containing the given set name, or "" if unclassified.
func EraOf(setName string) Era {
	for era, sets := range SetEras {
		for _, name := range sets {
			if name == setName {
				return era
			}
		}
	}
	return ""
}
