package composite

import "testing"

func intp(v int) *int { return &v }

func TestCompose(t *testing.T) {
	tests := []struct {
		name      string
		onChain   *int
		offChain  *int
		wantScore *int
		wantW     Weights
	}{
		{
			name:      "both present",
			onChain:   intp(600),
			offChain:  intp(800),
			wantScore: intp(740), // 600*0.3 + 800*0.7
			wantW:     Weights{OnChain: 0.3, OffChain: 0.7},
		},
		{
			name:      "on-chain only",
			onChain:   intp(612),
			wantScore: intp(612),
			wantW:     Weights{OnChain: 1, OffChain: 0},
		},
		{
			name:      "off-chain only",
			offChain:  intp(750),
			wantScore: intp(750),
			wantW:     Weights{OnChain: 0, OffChain: 1},
		},
		{
			name:  "neither",
			wantW: Weights{},
		},
		{
			name:      "rounding",
			onChain:   intp(601),
			offChain:  intp(700),
			wantScore: intp(670), // 180.3 + 490 = 670.3 → 670
			wantW:     Weights{OnChain: 0.3, OffChain: 0.7},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compose(tc.onChain, tc.offChain)

			if (got.Score == nil) != (tc.wantScore == nil) {
				t.Fatalf("Score presence = %v, want %v", got.Score != nil, tc.wantScore != nil)
			}
			if got.Score != nil && *got.Score != *tc.wantScore {
				t.Errorf("Score = %d, want %d", *got.Score, *tc.wantScore)
			}
			if got.Weights != tc.wantW {
				t.Errorf("Weights = %+v, want %+v", got.Weights, tc.wantW)
			}
		})
	}
}

func TestCompose_Pure(t *testing.T) {
	on, off := intp(661), intp(820)
	first := Compose(on, off)
	for i := 0; i < 5; i++ {
		if got := Compose(on, off); *got.Score != *first.Score {
			t.Fatalf("Compose not pure: %d != %d", *got.Score, *first.Score)
		}
	}
	// 661*0.3 + 820*0.7 = 198.3 + 574 = 772.3 → 772
	if *first.Score != 772 {
		t.Errorf("Score = %d, want 772", *first.Score)
	}

	// Inputs are copied, not aliased.
	*on = 0
	if *first.Score != 772 {
		t.Error("Blend must not alias its inputs")
	}
}
