package scrape

import "testing"

func TestTextHelpers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"digits price", Digits, "HK$1,250萬", "1250"},
		{"digits empty", Digits, "", ""},
		{"digits none", Digits, "n/a", ""},
		{"strip", StripSpace, " 太古城 \n\t第一期 ", "太古城第一期"},
		{"squash", SquashSpace, "  Taikoo \n  Shing\tPhase 1 ", "Taikoo Shing Phase 1"},
		{"reverse date", ReverseDate, "01/03/2017", "2017/03/01"},
		{"reverse empty", ReverseDate, "", ""},
		{"reverse no slash", ReverseDate, "2017", "2017"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
