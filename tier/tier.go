// Package tier computes the quality tier of a content item from its
// like/dislike vote counts. The ladder is the product's scoring contract:
// any consumer (badge rendering, cache entries, external tooling) imports
// this package to get the exact thresholds and labels.
package tier

import "strconv"

// Result is the immutable classification of one vote record.
type Result struct {
	Tier           string `json:"tier"`
	ColorClass     string `json:"colorClass"`
	LikeRatio      string `json:"likeRatio"`
	Rating         string `json:"rating"`
	TotalVotes     int64  `json:"totalVotes"`
	EngagementRate string `json:"engagementRate"`
}

// Entry is one rung of the ladder. Entries are sorted by descending
// MinLikeRatio; the first whose threshold the ratio meets wins.
type Entry struct {
	MinLikeRatio float64
	Tier         string
	ColorClass   string
	Rating       string
}

// Ladder maps like ratios to tiers. The terminal entry at 0 guarantees the
// lookup always succeeds.
var Ladder = []Entry{
	{100, "PERFECT", "tier-perfect", "10"},
	{99.9, "X", "tier-x", "9.9"},
	{99.8, "SSS", "tier-sss", "9.7"},
	{99.5, "SS+", "tier-ss-plus", "9.4"},
	{99.0, "SS", "tier-ss", "9.0"},
	{98.0, "S+", "tier-s-plus", "8.5"},
	{96.0, "S", "tier-s", "8.0"},
	{92.0, "A+", "tier-a-plus", "7.5"},
	{88.0, "A", "tier-a", "7.0"},
	{84.0, "A-", "tier-a-minus", "6.5"},
	{80.0, "B+", "tier-b-plus", "6.0"},
	{76.0, "B", "tier-b", "5.5"},
	{72.0, "B-", "tier-b-minus", "5.0"},
	{68.0, "C+", "tier-c-plus", "4.5"},
	{54.0, "C", "tier-c", "4.0"},
	{50.0, "C-", "tier-c-minus", "3.5"},
	{45.0, "D+", "tier-d-plus", "3.0"},
	{40.0, "D", "tier-d", "2.5"},
	{35.0, "D-", "tier-d-minus", "2.0"},
	{30.0, "E+", "tier-e-plus", "1.5"},
	{25.0, "E", "tier-e", "1.0"},
	{20.0, "E-", "tier-e-minus", "0.5"},
	{15.0, "F+", "tier-f-plus", "0.3"},
	{10.0, "F", "tier-f", "0.2"},
	{5, "F-", "tier-f-minus", "0.1"},
	{0, "N/A", "tier-na", "N/A"},
}

// Classify maps raw vote counts to a Result. Pure and deterministic.
//
// total == 0 short-circuits to the terminal entry before the ratio is
// computed, so a zero-vote item classifies as "N/A" rather than NaN.
func Classify(likes, dislikes, views int64) Result {
	total := likes + dislikes

	engagement := "N/A"
	if views > 0 {
		engagement = strconv.FormatFloat(float64(total)/float64(views)*100, 'f', 2, 64) + "%"
	}

	terminal := Ladder[len(Ladder)-1]
	if total == 0 {
		return Result{
			Tier:           terminal.Tier,
			ColorClass:     terminal.ColorClass,
			LikeRatio:      "N/A",
			Rating:         terminal.Rating,
			TotalVotes:     0,
			EngagementRate: engagement,
		}
	}

	ratio := float64(likes) / float64(total) * 100

	entry := terminal
	for _, e := range Ladder {
		if ratio >= e.MinLikeRatio {
			entry = e
			break
		}
	}

	decimals := 1
	if ratio > 95 {
		decimals = 2
	}

	return Result{
		Tier:           entry.Tier,
		ColorClass:     entry.ColorClass,
		LikeRatio:      strconv.FormatFloat(ratio, 'f', decimals, 64) + "%",
		Rating:         entry.Rating,
		TotalVotes:     total,
		EngagementRate: engagement,
	}
}
