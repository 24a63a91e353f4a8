package mail

import (
	"testing"
	"time"
)

func TestParseDateX(t *testing.T) {
	want := time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)
	for _, in := range []string{
		"Sun, 13 Sep 2020 12:26:40 +0000",
		"13 Sep 2020 12:26:40",
		"Sun Sep 13 12:26:40 2020",
	} {
		got, err := ParseDateX(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q -> %v", in, got)
		}
	}
	if _, err := ParseDateX("not a date"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestFormatDate(t *testing.T) {
	got := FormatDate(time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC))
	if got != "Sun, 13 Sep 2020 12:26:40 +0000" {
		t.Errorf("formatted %q", got)
	}
}
