package strategy

import "time"

// DefaultCategory labels offers whose site gives no better category.
const DefaultCategory = "Geral"

// Readiness describes what must be present before extraction starts. An
// empty Text and Selector means the document load state is polled instead.
type Readiness struct {
	Text     string
	Selector string
	// Optional pages proceed with extraction even when the wait times out.
	Optional bool
}

// Scroll bounds the lazy-load scroll loop. MaxIterations <= 0 disables it.
type Scroll struct {
	Step          int
	MaxIterations int
	Pause         time.Duration
	Settle        time.Duration
}

// Profile is the data that distinguishes one site's strategy from another.
type Profile struct {
	Name    string
	Markers []string
	// Store is the label stamped on every offer; empty infers it from the host.
	Store    string
	Category string
	// CategoryFromBrand uses the scraped brand as category when present.
	CategoryFromBrand bool
	// BaseURL resolves relative links; empty uses the page origin.
	BaseURL          string
	Readiness        Readiness
	PageLoadTimeout  time.Duration
	ReadinessTimeout time.Duration
	Scroll           Scroll
	// Script is the extraction script name, without the .js suffix.
	Script string
}

// Profiles returns the built-in site profiles in dispatch priority order. The
// generic profile is not included; see GenericProfile.
func Profiles() []Profile {
	return []Profile{
		{
			Name:              "amazon",
			Markers:           []string{"amazon"},
			Store:             "Amazon",
			Category:          DefaultCategory,
			CategoryFromBrand: true,
			BaseURL:           "https://www.amazon.com.br",
			Readiness:         Readiness{Text: "R$"},
			PageLoadTimeout:   30 * time.Second,
			ReadinessTimeout:  25 * time.Second,
			Scroll: Scroll{
				Step:          1000,
				MaxIterations: 20,
				Pause:         800 * time.Millisecond,
				Settle:        2 * time.Second,
			},
			Script: "amazon",
		},
		{
			Name:             "kabum",
			Markers:          []string{"kabum"},
			Store:            "Kabum",
			Category:         "Eletrônicos",
			BaseURL:          "https://www.kabum.com.br",
			Readiness:        Readiness{Text: "R$"},
			PageLoadTimeout:  30 * time.Second,
			ReadinessTimeout: 15 * time.Second,
			Script:           "kabum",
		},
		{
			Name:              "magalu",
			Markers:           []string{"magalu", "magazineluiza"},
			Store:             "Magalu",
			Category:          DefaultCategory,
			CategoryFromBrand: true,
			BaseURL:           "https://www.magazineluiza.com.br",
			Readiness: Readiness{
				Selector: `a[data-testid="product-card-container"]`,
				Optional: true,
			},
			PageLoadTimeout:  30 * time.Second,
			ReadinessTimeout: 30 * time.Second,
			Scroll: Scroll{
				Step:          1000,
				MaxIterations: 10,
				Pause:         1300 * time.Millisecond,
				Settle:        time.Second,
			},
			Script: "magalu",
		},
		{
			Name:              "mercadolivre",
			Markers:           []string{"mercadolivre", "mercadolibre"},
			Store:             "Mercado Livre",
			Category:          DefaultCategory,
			CategoryFromBrand: true,
			BaseURL:           "https://www.mercadolivre.com.br",
			Readiness: Readiness{
				Selector: "div.poly-card, li.ui-search-layout__item",
				Optional: true,
			},
			PageLoadTimeout:  30 * time.Second,
			ReadinessTimeout: 20 * time.Second,
			Scroll: Scroll{
				Step:          1200,
				MaxIterations: 10,
				Pause:         800 * time.Millisecond,
				Settle:        time.Second,
			},
			Script: "mercadolivre",
		},
	}
}

// GenericProfile is used for any page no site marker claims.
func GenericProfile() Profile {
	return Profile{
		Name:             "generic",
		Category:         DefaultCategory,
		PageLoadTimeout:  40 * time.Second,
		ReadinessTimeout: 30 * time.Second,
		Scroll: Scroll{
			Step:          1200,
			MaxIterations: 15,
			Pause:         700 * time.Millisecond,
			Settle:        1500 * time.Millisecond,
		},
		Script: "generic",
	}
}
