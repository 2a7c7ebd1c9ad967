package gamification

// MaxLevel is the top of the progression table.
const MaxLevel = 100

// levelThresholds[n] is the total XP required to reach level n.
// Built once from the strictly increasing curve in XPForLevel.
var levelThresholds = buildThresholds()

func buildThresholds() [MaxLevel + 1]int {
	var t [MaxLevel + 1]int
	for n := 1; n <= MaxLevel; n++ {
		// Triangular growth: each level costs 100*(n-1) more than the last.
		// 0, 100, 300, 600, 1000, ... strictly increasing by construction.
		t[n] = 50 * (n - 1) * n
	}
	return t
}

// XPForLevel returns the total XP required to reach level n.
// Levels outside [1, MaxLevel] are clamped.
func XPForLevel(n int) int {
	if n < 1 {
		n = 1
	}
	if n > MaxLevel {
		n = MaxLevel
	}
	return levelThresholds[n]
}

// LevelFromXP returns the highest level whose threshold is at most totalXP.
// It is the inverse of XPForLevel: LevelFromXP(XPForLevel(n)) == n.
func LevelFromXP(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	// Binary search for the last threshold <= totalXP.
	lo, hi := 1, MaxLevel
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if levelThresholds[mid] <= totalXP {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// LevelUpBonusXP is the one-time XP bonus awarded for reaching a level.
func LevelUpBonusXP(level int) int {
	return level * 10
}

// levelTitle is one band of the progression table.
type levelTitle struct {
	minLevel int
	title    string
	titleJA  string
}

var levelTitles = []levelTitle{
	{1, "Beginner", "初心者"},
	{10, "Apprentice", "見習い"},
	{20, "Student", "学習者"},
	{30, "Seeker", "探求者"},
	{40, "Challenger", "挑戦者"},
	{50, "Adept", "熟練者"},
	{60, "Expert", "達人"},
	{70, "Master", "師範"},
	{80, "Sage", "賢者"},
	{90, "Legend", "仙人"},
}

// TitleForLevel returns the English and Japanese titles of a level band.
func TitleForLevel(level int) (title, titleJA string) {
	title, titleJA = levelTitles[0].title, levelTitles[0].titleJA
	for _, t := range levelTitles {
		if level >= t.minLevel {
			title, titleJA = t.title, t.titleJA
		}
	}
	return title, titleJA
}

// UserLevel is the level card shown for a user's accumulated XP.
type UserLevel struct {
	Level              int     `json:"level"`
	Title              string  `json:"title"`
	TitleJA            string  `json:"titleJa"`
	TotalXP            int     `json:"totalXp"`
	CurrentXP          int     `json:"currentXp"`
	XPToNextLevel      int     `json:"xpToNextLevel"`
	ProgressPercentage float64 `json:"progressPercentage"`
}

// GetUserLevel expands total XP into the level card: current level, titles,
// XP into the level, XP remaining, and progress percentage.
func GetUserLevel(totalXP int) UserLevel {
	if totalXP < 0 {
		totalXP = 0
	}
	level := LevelFromXP(totalXP)
	title, titleJA := TitleForLevel(level)

	ul := UserLevel{
		Level:   level,
		Title:   title,
		TitleJA: titleJA,
		TotalXP: totalXP,
	}

	floor := XPForLevel(level)
	ul.CurrentXP = totalXP - floor
	if level >= MaxLevel {
		ul.ProgressPercentage = 100
		return ul
	}

	span := XPForLevel(level+1) - floor
	ul.XPToNextLevel = XPForLevel(level+1) - totalXP
	ul.ProgressPercentage = 100 * float64(ul.CurrentXP) / float64(span)
	return ul
}
