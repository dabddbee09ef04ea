package wei

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"one bnb", "1", "1000000000000000000"},
		{"half bnb", "0.5", "500000000000000000"},
		{"ten bnb", "10", "10000000000000000000"},
		{"one wei", "0.000000000000000001", "1"},
		{"one gwei", "0.000000001", "1000000000"},
		{"mixed", "1.5", "1500000000000000000"},
		{"three decimals", "2.125", "2125000000000000000"},
		{"leading zeros in whole", "007.5", "7500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			expected, _ := new(big.Int).SetString(tt.expected, 10)
			if got.Cmp(expected) != 0 {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got.String(), expected.String())
			}
		})
	}
}

func TestParse_ZeroVariants(t *testing.T) {
	for _, input := range []string{"0", "0.0", "0.000000000000000000", ""} {
		got, ok := Parse(input)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", input)
		}
		if got.Sign() != 0 {
			t.Errorf("Parse(%q) = %s, want 0", input, got.String())
		}
	}
}

func TestParse_TruncationBeyondEighteenDecimals(t *testing.T) {
	got, ok := Parse("1.1234567890123456789")
	if !ok {
		t.Fatal("Parse returned ok=false")
	}
	expected, _ := new(big.Int).SetString("1123456789012345678", 10)
	if got.Cmp(expected) != 0 {
		t.Errorf("Parse truncated = %s, want %s", got.String(), expected.String())
	}
}

func TestParse_NoWholePartWithDot(t *testing.T) {
	got, ok := Parse(".5")
	if !ok {
		t.Fatal("Parse(\".5\") returned ok=false")
	}
	expected, _ := new(big.Int).SetString("500000000000000000", 10)
	if got.Cmp(expected) != 0 {
		t.Errorf("Parse(\".5\") = %s, want %s", got.String(), expected.String())
	}
}

func TestParse_InvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative", "-1.0"},
		{"negative zero", "-0"},
		{"alphabetic", "abc"},
		{"multiple dots", "1.2.3"},
		{"has letters", "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Parse(tt.input)
			if ok {
				t.Errorf("Parse(%q) should return ok=false", tt.input)
			}
		})
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0" {
		t.Errorf("Format(nil) = %q, want \"0\"", got)
	}
}

func TestFormat_TrimsTrailingZeros(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"zero", "0", "0"},
		{"one wei", "1", "0.000000000000000001"},
		{"one gwei", "1000000000", "0.000000001"},
		{"one bnb", "1000000000000000000", "1"},
		{"one and a half", "1500000000000000000", "1.5"},
		{"ten bnb", "10000000000000000000", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := new(big.Int).SetString(tt.input, 10)
			if got := Format(in); got != tt.expected {
				t.Errorf("Format(%s) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormat_Negative(t *testing.T) {
	in, _ := new(big.Int).SetString("-1500000000000000000", 10)
	if got := Format(in); got != "-1.5" {
		t.Errorf("Format = %q, want \"-1.5\"", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "1.5", "0.000000000000000001", "123.456", "0"} {
		t.Run(s, func(t *testing.T) {
			parsed, ok := Parse(s)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", s)
			}
			if got := Format(parsed); got != s {
				t.Errorf("Format(Parse(%q)) = %q", s, got)
			}
		})
	}
}

func TestBNB(t *testing.T) {
	got := BNB(10)
	expected, _ := new(big.Int).SetString("10000000000000000000", 10)
	if got.Cmp(expected) != 0 {
		t.Errorf("BNB(10) = %s, want %s", got.String(), expected.String())
	}
}

func TestToGwei(t *testing.T) {
	if got := ToGwei(big.NewInt(5_000_000_000)); got != 5 {
		t.Errorf("ToGwei(5e9) = %v, want 5", got)
	}
	if got := ToGwei(nil); got != 0 {
		t.Errorf("ToGwei(nil) = %v, want 0", got)
	}
}

func TestDecimalsConstant(t *testing.T) {
	if Decimals != 18 {
		t.Errorf("Decimals = %d, want 18", Decimals)
	}
}
