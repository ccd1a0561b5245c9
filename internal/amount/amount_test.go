package amount

import "testing"

func TestParse_Valid(t *testing.T) {
	tests := []string{"1", "100", "0.1", "123.456789", "1000000000000000000"}
	for _, s := range tests {
		if _, err := Parse(s, false); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", s, err)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{"", "-1", "1e10", "abc", "1.", ".1", "1.2.3", "+1", " 1"}
	for _, s := range tests {
		if _, err := Parse(s, false); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", s)
		}
	}
}

func TestParse_MustPositive_RejectsZero(t *testing.T) {
	if _, err := Parse("0", true); err == nil {
		t.Error("Parse(\"0\", true) expected error, got nil")
	}
	if _, err := Parse("0", false); err != nil {
		t.Errorf("Parse(\"0\", false) unexpected error: %v", err)
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("100") {
		t.Error("IsValid(\"100\") = false, want true")
	}
	if IsValid("0") {
		t.Error("IsValid(\"0\") = true, want false (zero is not a valid positive amount)")
	}
	if IsValid("-5") {
		t.Error("IsValid(\"-5\") = true, want false")
	}
}

func TestAdd(t *testing.T) {
	a := MustParse("100.5")
	b := MustParse("0.5")
	got := a.Add(b)
	if got.String() != "101" {
		t.Errorf("Add() = %s, want 101", got)
	}
}

func TestSub_Valid(t *testing.T) {
	a := MustParse("100")
	b := MustParse("30")
	got, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub() unexpected error: %v", err)
	}
	if got.String() != "70" {
		t.Errorf("Sub() = %s, want 70", got)
	}
}

func TestSub_Negative(t *testing.T) {
	a := MustParse("10")
	b := MustParse("20")
	if _, err := a.Sub(b); err == nil {
		t.Error("Sub() expected error for negative result, got nil")
	}
}

func TestCmp(t *testing.T) {
	a := MustParse("10")
	b := MustParse("20")
	if a.Cmp(b) >= 0 {
		t.Error("Cmp(10, 20) should be negative")
	}
	if !a.LessThan(b) {
		t.Error("10 should be less than 20")
	}
	if !b.GreaterThan(a) {
		t.Error("20 should be greater than 10")
	}
	if !a.Equal(MustParse("10")) {
		t.Error("10 should equal 10")
	}
	if !a.LessOrEqual(a) {
		t.Error("10 should be <= 10")
	}
	if !a.GreaterOrEqual(a) {
		t.Error("10 should be >= 10")
	}
}

func TestString_NoScientificNotation(t *testing.T) {
	a := MustParse("1000000000000000000")
	got := a.String()
	if got != "1000000000000000000" {
		t.Errorf("String() = %s, want 1000000000000000000", got)
	}
}

func TestZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false, want true")
	}
	if Zero.String() != "0" {
		t.Errorf("Zero.String() = %s, want 0", Zero)
	}
}
