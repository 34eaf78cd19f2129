package market

import (
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"m", 0, true},
		{"5", 0, true},
		{"0m", 0, true},
		{"5x", 0, true},
		{"5mm", 0, true},
		{"m5", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			tf, err := ParseTimeframe(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseTimeframe(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if tf.Duration() != tc.want {
				t.Fatalf("Duration() = %v, want %v", tf.Duration(), tc.want)
			}
			if tf.String() != tc.in {
				t.Fatalf("String() = %q, want round trip to %q", tf.String(), tc.in)
			}
		})
	}
}

func TestValidateSeries(t *testing.T) {
	base := time.Unix(1700000000, 0)
	good := []Bar{
		{Time: base},
		{Time: base.Add(5 * time.Minute)},
		{Time: base.Add(10 * time.Minute)},
	}
	if err := ValidateSeries(good); err != nil {
		t.Fatalf("ValidateSeries(good) = %v", err)
	}

	dup := []Bar{{Time: base}, {Time: base}}
	if err := ValidateSeries(dup); err == nil {
		t.Fatal("duplicate timestamps must be rejected")
	}

	backwards := []Bar{{Time: base.Add(time.Minute)}, {Time: base}}
	if err := ValidateSeries(backwards); err == nil {
		t.Fatal("out-of-order timestamps must be rejected")
	}
}

func TestSyntheticSeriesIsDeterministic(t *testing.T) {
	cfg := SyntheticConfig{Count: 50, StartPrice: 100, Step: 0.5, Seed: 7}
	a := SyntheticSeries(cfg)
	b := SyntheticSeries(cfg)

	if len(a) != 50 {
		t.Fatalf("len = %d, want 50", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between identically seeded runs", i)
		}
	}
	if err := ValidateSeries(a); err != nil {
		t.Fatalf("synthetic series invalid: %v", err)
	}
	for i, bar := range a {
		if bar.High < bar.Open || bar.High < bar.Close || bar.Low > bar.Open || bar.Low > bar.Close {
			t.Fatalf("bar %d violates OHLC bounds: %+v", i, bar)
		}
	}
}
