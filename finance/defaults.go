package finance

import "github.com/shopspring/decimal"

const (
	// DefaultFamilyName is shown until the familyName path delivers a value.
	DefaultFamilyName = "Nossa Família"

	// ExpenseEmoji and RevenueEmoji decorate transactions without an emoji.
	ExpenseEmoji = "💸"
	RevenueEmoji = "💰"
)

// DefaultAlertThreshold is the percentage used until the alertThreshold path
// delivers a value.
var DefaultAlertThreshold = decimal.NewFromInt(15)

const avatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// AvatarOptions lists the selectable avatars.
var AvatarOptions = func() []string {
	seeds := []string{"Alex", "Sam", "Jordan", "Casey", "Charlie", "Taylor", "Riley", "Quinn", "Avery", "Skyler"}
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = avatarBase + s
	}
	return out
}()

// DefaultUsers returns the initial household members.
func DefaultUsers() Users {
	return Users{
		A: User{
			ID:     "user_a",
			Name:   "Alex",
			Avatar: avatarBase + "Alex",
			Income: decimal.NewFromInt(5000),
		},
		B: User{
			ID:     "user_b",
			Name:   "Sam",
			Avatar: avatarBase + "Sam",
			Income: decimal.NewFromInt(3500),
		},
	}
}

// Category is a transaction label with its decorative emoji.
type Category struct {
	ID    string `json:"id"`
	Emoji string `json:"emoji"`
}

// Categories is the built-in label set. Transactions may carry other labels.
var Categories = []Category{
	{ID: "Mercado", Emoji: "🛒"},
	{ID: "Lazer", Emoji: "🎉"},
	{ID: "Transporte", Emoji: "⛽"},
	{ID: "Casa", Emoji: "🏠"},
	{ID: "Saúde", Emoji: "💊"},
}

// TypeEmoji returns the fallback emoji for a transaction direction.
func TypeEmoji(t TransactionType) string {
	if t == TransactionExpense {
		return ExpenseEmoji
	}
	return RevenueEmoji
}

// DefaultEmoji picks the category emoji, falling back to the type emoji.
func DefaultEmoji(category string, t TransactionType) string {
	for _, c := range Categories {
		if c.ID == category {
			return c.Emoji
		}
	}
	return TypeEmoji(t)
}
