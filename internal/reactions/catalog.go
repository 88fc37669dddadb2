package reactions

// Profile keys produced by ResolveProfile.
const (
	ProfileVIP        = "vip"
	ProfileFrequent   = "frequent"
	ProfileLargeOrder = "large_order"
	ProfileFirstOrder = "first_order"
)

// Thresholds for user_metrics_profile resolution.
const (
	vipOrderCount      = 10
	vipTotalSpent      = 2000
	frequentOrderCount = 5
	largeOrderTotal    = 500
)

// defaultTables is indexed by Category; a category added without a table
// fails TestCatalogCoversEveryCategory.
var defaultTables = [numCategories]map[string]string{
	CategoryOrderFlowStage: {
		"greeting":          "👋",
		"browsing_menu":     "📋",
		"building_order":    "🛒",
		"order_received":    "📥",
		"order_confirmed":   "✅",
		"payment_pending":   "💳",
		"payment_confirmed": "💰",
		"preparing":         "👨‍🍳",
		"out_for_delivery":  "🚚",
		"delivered":         "📦",
		"completed":         "🎉",
		"cancelled":         "❌",
	},
	CategoryUserIntent: {
		"greeting":  "👋",
		"menu":      "📋",
		"hours":     "🕐",
		"location":  "📍",
		"order":     "🛒",
		"payment":   "💳",
		"delivery":  "🚚",
		"help":      "🤝",
		"complaint": "🙏",
		"thanks":    "❤️",
		"goodbye":   "👋",
	},
	CategoryValidationResult: {
		ValidationValid:      "✅",
		ValidationInvalid:    "❌",
		ValidationPartial:    "⚠️",
		ValidationProcessing: "⏳",
	},
	CategoryAdminMessageKind: {
		"alert":     "🚨",
		"info":      "ℹ️",
		"success":   "✅",
		"warning":   "⚠️",
		"broadcast": "📢",
		"report":    "📊",
	},
	CategoryGeneralState: {
		"seen":       "👀",
		"thinking":   "🤔",
		"processing": "⏳",
		"done":       "✅",
		"error":      "❌",
		"love":       "❤️",
		"thumbs_up":  "👍",
	},
	CategoryUserMetricsProfile: {
		ProfileVIP:        "👑",
		ProfileFrequent:   "⭐",
		ProfileLargeOrder: "💎",
		ProfileFirstOrder: "🎉",
	},
}

// Catalog maps (category, key) pairs to emoji. A Catalog is immutable once
// built; overrides produce a new value.
type Catalog struct {
	tables [numCategories]map[string]string
}

// DefaultCatalog returns the built-in tables.
func DefaultCatalog() *Catalog {
	return &Catalog{tables: defaultTables}
}

// WithOverrides returns a copy of c with per-category entries replaced or
// added. An empty emoji deletes the entry.
func (c *Catalog) WithOverrides(overrides map[Category]map[string]string) *Catalog {
	out := &Catalog{}
	for i, table := range c.tables {
		cp := make(map[string]string, len(table))
		for k, v := range table {
			cp[k] = v
		}
		out.tables[i] = cp
	}
	for cat, entries := range overrides {
		if cat < 0 || cat >= numCategories {
			continue
		}
		for k, v := range entries {
			if v == "" {
				delete(out.tables[cat], k)
				continue
			}
			out.tables[cat][k] = v
		}
	}
	return out
}

// Lookup returns the emoji for key in category.
func (c *Catalog) Lookup(category Category, key string) (string, bool) {
	if category < 0 || category >= numCategories {
		return "", false
	}
	emoji, ok := c.tables[category][key]
	return emoji, ok && emoji != ""
}

// Resolve returns the emoji for a trigger. Metrics triggers resolve their
// profile first; the trigger's Key is ignored for them.
func (c *Catalog) Resolve(t Trigger) (string, bool) {
	if t.Category == CategoryUserMetricsProfile {
		if t.Metrics == nil {
			return "", false
		}
		profile, ok := ResolveProfile(*t.Metrics)
		if !ok {
			return "", false
		}
		return c.Lookup(CategoryUserMetricsProfile, profile)
	}
	return c.Lookup(t.Category, t.Key)
}

// Table returns a copy of one category's entries.
func (c *Catalog) Table(category Category) map[string]string {
	if category < 0 || category >= numCategories {
		return nil
	}
	out := make(map[string]string, len(c.tables[category]))
	for k, v := range c.tables[category] {
		out[k] = v
	}
	return out
}

// ResolveProfile applies the fixed precedence VIP > frequent > large order >
// first order. The first matching rule wins.
func ResolveProfile(m MetricsSnapshot) (string, bool) {
	switch {
	case m.OrderCount >= vipOrderCount || m.TotalSpent >= vipTotalSpent:
		return ProfileVIP, true
	case m.OrderCount >= frequentOrderCount:
		return ProfileFrequent, true
	case m.OrderTotal >= largeOrderTotal:
		return ProfileLargeOrder, true
	case m.OrderCount == 1:
		return ProfileFirstOrder, true
	}
	return "", false
}
