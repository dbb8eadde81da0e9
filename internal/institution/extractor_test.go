package institution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicExtractor(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	e := NewHeuristicExtractor(catalog)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "legal form in letterhead",
			text: "Müller & Söhne GmbH\nHauptstraße 5\n\nSehr geehrte Damen und Herren,",
			want: []string{"Müller & Söhne GmbH"},
		},
		{
			name: "keyword deep in body",
			text: "a\nb\nc\nd\ne\nf\ng\nIhre Zahlung an die Kreissparkasse Nord ist eingegangen.",
			want: []string{"Kreissparkasse Nord"},
		},
		{
			name: "body noun runs without hints are ignored",
			text: "1\n2\n3\n4\n5\n6\nDie Nebenkosten Abrechnung folgt",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "e.V. kept",
			text: "Sportverein Blau Weiss e.V.",
			want: []string{"Sportverein Blau Weiss e.V."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ExtractOrgs(tt.text))
		})
	}
}

func TestCatalogHasOrgHint(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	assert.True(t, catalog.HasOrgHint("Beispiel GmbH"))
	assert.True(t, catalog.HasOrgHint("Volksbank Mittelhessen"))
	assert.True(t, catalog.HasOrgHint("REWE Markt"))
	assert.True(t, catalog.HasOrgHint("Beispiel GmbH & Co. KG"))
	assert.False(t, catalog.HasOrgHint("Vertragsnummer"))
	assert.False(t, catalog.HasOrgHint("Max Mustermann"))
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte("institutions: [Foo]\nkeywords: [BANK]\nlegal_forms: [GmbH]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, c.Institutions)
	assert.Equal(t, []string{"bank"}, c.Keywords)
	assert.Equal(t, []string{"gmbh"}, c.LegalForms)

	_, err = ParseCatalog([]byte("institutions: [unterminated"))
	assert.Error(t, err)
}
