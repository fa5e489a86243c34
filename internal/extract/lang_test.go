package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"english",
			"The cat sat on the mat and the dog barked at the mailman for the fun of it, and that was that for you and them.",
			"en",
		},
		{
			"spanish",
			"Los gatos y los perros que viven con una familia son para este hogar más felices, pero los animales del campo también.",
			"es",
		},
		{
			"german",
			"Der Hund und die Katze sind nicht mit den Kindern auf der Wiese, das ist für die Familie ein Problem und das ist nicht gut.",
			"de",
		},
		{"too short", "hello world", "unknown"},
		{
			"no stop words",
			strings.Repeat("zzz qqq xxx www yyy vvv ", 10),
			"unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage = %q, want %q", got, tt.want)
			}
		})
	}
}
