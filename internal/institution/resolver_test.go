package institution

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	sources []string
}

func (o *countingObserver) ObserveResolution(source string) {
	o.sources = append(o.sources, source)
}

// failingStore accepts nothing.
type failingStore struct{ labels []string }

func (s *failingStore) Load() error      { return nil }
func (s *failingStore) Labels() []string { return s.labels }
func (s *failingStore) Close() error     { return nil }
func (s *failingStore) Add(l string) (string, error) {
	return l, errors.New("disk full")
}

func newTestResolver(t *testing.T, extractor OrgExtractor) (*Resolver, *FileStore) {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	store := NewFileStore(filepath.Join(t.TempDir(), "institutions.json"), nil)
	return NewResolver(catalog, store, extractor), store
}

func TestResolve_WhitelistWins(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"finanzamt", "Finanzamt Gießen\nSteuerbescheid 2023", "Finanzamt"},
		{"sparkasse", "Sparkasse Marburg Kontoauszug", "Sparkasse"},
		{"case insensitive", "BUNDESAGENTUR FÜR ARBEIT - Bescheid", "Bundesagentur für Arbeit"},
		{"beats extracted org", "Muster Versicherung AG\nIhr Schreiben an das Finanzamt", "Finanzamt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newTestResolver(t, StaticExtractor{"Muster Versicherung AG"})
			assert.Equal(t, tt.want, r.Resolve(tt.text))
			assert.Empty(t, store.Labels(), "whitelist hits are never learned")
		})
	}
}

func TestResolve_LearnedStoreInOrder(t *testing.T) {
	r, store := newTestResolver(t, StaticExtractor{"Ignored Candidate GmbH"})
	_, err := store.Add("Stadtreinigung Nord")
	require.NoError(t, err)
	_, err = store.Add("Reinigung")
	require.NoError(t, err)

	res := r.ResolveDetailed("Gebührenbescheid der stadtreinigung nord")
	assert.Equal(t, "Stadtreinigung Nord", res.Label)
	assert.Equal(t, SourceLearned, res.Source)
}

func TestResolve_KeywordCandidatePreferred(t *testing.T) {
	r, store := newTestResolver(t, StaticExtractor{"Max Mustermann Straße", "Acme Versicherung", "Beispiel GmbH"})

	res := r.ResolveDetailed("irrelevant")
	assert.Equal(t, "Acme Versicherung", res.Label)
	assert.Equal(t, SourceKeyword, res.Source)
	assert.Equal(t, []string{"Acme Versicherung"}, store.Labels())
}

func TestResolve_LegalFormIsWholeWord(t *testing.T) {
	r, _ := newTestResolver(t, StaticExtractor{"Vertrag Nummer", "Beispiel AG"})

	// "Vertrag" contains "ag" but is no legal form.
	assert.Equal(t, "Beispiel AG", r.Resolve("x"))
}

func TestResolve_LongestCandidateFallback(t *testing.T) {
	r, store := newTestResolver(t, StaticExtractor{"Ab", "12345", "Nord Ost", "Kanzlei Weber Partner", "Praxis Dr Lange x"})

	res := r.ResolveDetailed("some text")
	assert.Equal(t, "Kanzlei Weber Partner", res.Label)
	assert.Equal(t, SourceLongest, res.Source)
	assert.Equal(t, []string{"Kanzlei Weber Partner"}, store.Labels())
}

func TestResolve_LongestTieGoesToFirstCandidate(t *testing.T) {
	// Same rune count; "Süd West Werk" is longer in bytes.
	r, store := newTestResolver(t, StaticExtractor{"Nord Ost Werk", "Süd West Werk"})

	res := r.ResolveDetailed("some text")
	assert.Equal(t, "Nord Ost Werk", res.Label)
	assert.Equal(t, SourceLongest, res.Source)
	assert.Equal(t, []string{"Nord Ost Werk"}, store.Labels())
}

func TestResolve_NoiseOnlyIsUnresolved(t *testing.T) {
	r, store := newTestResolver(t, StaticExtractor{"AB", "2023", "  "})

	assert.Equal(t, Unresolved, r.Resolve("AB 2023"))
	assert.Equal(t, []string{Unresolved}, store.Labels())
}

func TestResolve_EmptyTextUnresolvedOnce(t *testing.T) {
	r, store := newTestResolver(t, StaticExtractor{"Should Not Be Used GmbH"})

	assert.Equal(t, Unresolved, r.Resolve(""))
	assert.Equal(t, Unresolved, r.Resolve("   \n"))
	assert.Equal(t, []string{Unresolved}, store.Labels())
}

func TestResolve_Idempotent(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	store := NewFileStore(filepath.Join(t.TempDir(), "institutions.json"), nil)
	r := NewResolver(catalog, store, NewHeuristicExtractor(catalog))

	text := "Hausverwaltung Sonnenschein GmbH\nMusterweg 1\n35037 Marburg\n\nNebenkostenabrechnung"
	first := r.Resolve(text)
	second := r.Resolve(text)

	assert.Equal(t, "Hausverwaltung Sonnenschein GmbH", first)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{first}, store.Labels())
}

func TestResolve_PersistsAcrossInstances(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "institutions.json")

	r1 := NewResolver(catalog, NewFileStore(path, nil), StaticExtractor{"Zahnarztpraxis Klein"})
	assert.Equal(t, "Zahnarztpraxis Klein", r1.Resolve("whatever"))

	r2 := NewResolver(catalog, NewFileStore(path, nil), StaticExtractor{})
	res := r2.ResolveDetailed("Rechnung ZAHNARZTPRAXIS KLEIN")
	assert.Equal(t, "Zahnarztpraxis Klein", res.Label)
	assert.Equal(t, SourceLearned, res.Source)
}

func TestResolve_PersistFailureKeepsLabel(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	r := NewResolver(catalog, &failingStore{}, StaticExtractor{"Kanzlei Meyer"})

	assert.Equal(t, "Kanzlei Meyer", r.Resolve("text"))
	assert.Equal(t, Unresolved, NewResolver(catalog, &failingStore{}, StaticExtractor{}).Resolve(""))
}

func TestResolve_Observer(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	obs := &countingObserver{}
	store := NewFileStore(filepath.Join(t.TempDir(), "i.json"), nil)
	r := NewResolver(catalog, store, StaticExtractor{}, WithObserver(obs))

	r.Resolve("Finanzamt")
	r.Resolve("")

	assert.Equal(t, []string{"whitelist", "unresolved"}, obs.sources)
}
