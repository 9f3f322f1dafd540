package tier

import "testing"

func TestClassify_ZeroTotal(t *testing.T) {
	// WHAT: likes+dislikes == 0 yields the terminal "N/A" entry.
	// WHY: The ratio is a division by zero otherwise; the contract demands a
	// defined result, not NaN propagation.
	r := Classify(0, 0, 500)
	if r.Tier != "N/A" {
		t.Errorf("tier: got %q, want N/A", r.Tier)
	}
	if r.Rating != "N/A" {
		t.Errorf("rating: got %q, want N/A", r.Rating)
	}
	if r.ColorClass != "tier-na" {
		t.Errorf("colorClass: got %q", r.ColorClass)
	}
	if r.TotalVotes != 0 {
		t.Errorf("totalVotes: got %d", r.TotalVotes)
	}
}

func TestClassify_Ladder(t *testing.T) {
	// WHAT: Boundary behaviour of the ladder lookup.
	// WHY: Lower bounds are inclusive; the first (highest) matching entry wins.
	tests := []struct {
		name     string
		likes    int64
		dislikes int64
		tier     string
		rating   string
	}{
		{"all likes is PERFECT", 100, 0, "PERFECT", "10"},
		{"exactly 99.9 is X not SSS", 999, 1, "X", "9.9"},
		{"95.0 falls in the A+ band", 950, 50, "A+", "7.5"},
		{"exactly 96.0 is S", 96, 4, "S", "8.0"},
		{"exactly 50.0 is C-", 1, 1, "C-", "3.5"},
		{"below 5 is N/A", 4, 96, "N/A", "N/A"},
		{"all dislikes is N/A", 0, 10, "N/A", "N/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Classify(tt.likes, tt.dislikes, 0)
			if r.Tier != tt.tier {
				t.Errorf("tier: got %q, want %q", r.Tier, tt.tier)
			}
			if r.Rating != tt.rating {
				t.Errorf("rating: got %q, want %q", r.Rating, tt.rating)
			}
		})
	}
}

func TestClassify_LikeRatioFormatting(t *testing.T) {
	// WHAT: 2 decimals iff ratio > 95, else 1 decimal, "%" suffix.
	tests := []struct {
		likes    int64
		dislikes int64
		want     string
	}{
		{950, 50, "95.0%"}, // exactly 95 is not > 95
		{96, 4, "96.00%"},
		{100, 0, "100.00%"},
		{1, 1, "50.0%"},
		{1, 2, "33.3%"},
	}
	for _, tt := range tests {
		r := Classify(tt.likes, tt.dislikes, 0)
		if r.LikeRatio != tt.want {
			t.Errorf("Classify(%d, %d): likeRatio got %q, want %q",
				tt.likes, tt.dislikes, r.LikeRatio, tt.want)
		}
	}
}

func TestClassify_EngagementRate(t *testing.T) {
	// WHAT: engagement = 100*total/views to 2 decimals; "N/A" iff views == 0.
	r := Classify(950, 50, 100000)
	if r.EngagementRate != "1.00%" {
		t.Errorf("engagementRate: got %q, want 1.00%%", r.EngagementRate)
	}
	if r.Tier != "A+" {
		t.Errorf("tier: got %q, want A+", r.Tier)
	}

	r = Classify(100, 0, 0)
	if r.EngagementRate != "N/A" {
		t.Errorf("engagementRate with zero views: got %q, want N/A", r.EngagementRate)
	}
	if r.Tier != "PERFECT" || r.Rating != "10" {
		t.Errorf("tier/rating: got %q/%q, want PERFECT/10", r.Tier, r.Rating)
	}
}

func TestLadder_Shape(t *testing.T) {
	// WHAT: The ladder is strictly descending and ends at the catch-all zero.
	// WHY: The lookup depends on order; a misordered entry would shadow
	// everything below it.
	for i := 1; i < len(Ladder); i++ {
		if Ladder[i].MinLikeRatio >= Ladder[i-1].MinLikeRatio {
			t.Errorf("ladder not descending at %d: %v >= %v",
				i, Ladder[i].MinLikeRatio, Ladder[i-1].MinLikeRatio)
		}
	}
	last := Ladder[len(Ladder)-1]
	if last.MinLikeRatio != 0 || last.Tier != "N/A" {
		t.Errorf("terminal entry: got %+v", last)
	}
	if len(Ladder) != 26 {
		t.Errorf("ladder length: got %d, want 26", len(Ladder))
	}
}
