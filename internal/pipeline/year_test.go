package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentYear(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"Bescheid vom 12.03.2021", "2021", true},
		{"Kundennummer 48211 Rechnung 2019", "2019", true},
		{"Aktenzeichen 1234 aus 2020", "2020", true},
		{"PLZ 35390 Gießen", "", false},
		{"Vertrag bis 2099", "", false},
		{"Gründung 1850, erneuert 1999", "1999", true},
		{"2022-01-05", "2022", true},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ContentYear(tt.text, fixedNow)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
