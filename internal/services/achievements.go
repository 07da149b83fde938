package services

// ActivityCounters are the inputs the achievement evaluator runs against.
type ActivityCounters struct {
	PostCount  int `json:"post_count"`
	TotalLikes int `json:"total_likes"`
	DayStreak  int `json:"day_streak"`
}

// AchievementTier is one threshold within a category.
type AchievementTier struct {
	Threshold int
	Name      string
	Icon      string
}

// AchievementGrant is one newly qualifying achievement.
type AchievementGrant struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Tiers per category, ordered highest threshold first. Within a category only
// the first tier that is met and not yet held is granted per evaluation, so a
// big jump produces a single notification instead of one per crossed tier.
var (
	postTiers = []AchievementTier{
		{100, "Century Poster", "💯"},
		{50, "Prolific Poster", "✍️"},
		{10, "Getting Started", "🌱"},
	}

	likeTiers = []AchievementTier{
		{1000, "Viral Sensation", "🔥"},
		{100, "Well-Liked", "❤️"},
	}

	streakTiers = []AchievementTier{
		{30, "Monthly Devotion", "📅"},
		{7, "Weekly Warrior", "⚔️"},
	}
)

// EvaluateAchievements returns the achievements newly earned by the given
// counters, at most one per category. Achievements already in held are never
// returned again, so a second call with the same inputs yields an empty
// delta. Nothing is ever revoked.
func EvaluateAchievements(counters ActivityCounters, held map[string]bool) []AchievementGrant {
	var grants []AchievementGrant

	categories := []struct {
		value int
		tiers []AchievementTier
	}{
		{counters.PostCount, postTiers},
		{counters.TotalLikes, likeTiers},
		{counters.DayStreak, streakTiers},
	}

	for _, cat := range categories {
		for _, tier := range cat.tiers {
			if cat.value < tier.Threshold {
				continue
			}
			if !held[tier.Name] {
				grants = append(grants, AchievementGrant{Name: tier.Name, Icon: tier.Icon})
			}
			// Highest met tier decides for the category either way.
			break
		}
	}

	return grants
}
