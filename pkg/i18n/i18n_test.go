package i18n_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliolivre/storefront/pkg/i18n"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"locales/en.yaml": {Data: []byte("GREETING: \"Hello\"\nFAREWELL: \"Goodbye\"\n")},
		"locales/pt.yaml": {Data: []byte("GREETING: \"Olá\"\n")},
	}
}

func TestNewTranslator(t *testing.T) {
	t.Parallel()

	translator, err := i18n.NewTranslator(testFS(), "locales")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"en", "pt"}, translator.SupportedLanguages())
}

func TestNewTranslator_Errors(t *testing.T) {
	t.Parallel()

	_, err := i18n.NewTranslator(fstest.MapFS{"locales/.keep": {}}, "locales")
	require.ErrorIs(t, err, i18n.ErrNoTranslations)

	_, err = i18n.NewTranslator(fstest.MapFS{
		"locales/en.yaml": {Data: []byte("not: [valid: flat")},
	}, "locales")
	require.ErrorIs(t, err, i18n.ErrFailedToParseYAML)

	// The default language must have a dictionary.
	_, err = i18n.NewTranslator(fstest.MapFS{
		"locales/pt.yaml": {Data: []byte("GREETING: \"Olá\"\n")},
	}, "locales")
	require.Error(t, err)
}

func TestNewTranslator_DefaultLanguageOverride(t *testing.T) {
	t.Parallel()

	translator, err := i18n.NewTranslator(fstest.MapFS{
		"locales/pt.yaml": {Data: []byte("GREETING: \"Olá\"\nFAREWELL: \"Adeus\"\n")},
		"locales/en.yaml": {Data: []byte("GREETING: \"Hello\"\n")},
	}, "locales", i18n.WithDefaultLanguage("pt"))
	require.NoError(t, err)

	// Missing in en now falls back to pt instead of failing on the key.
	assert.Equal(t, "Adeus", translator.T("en", "FAREWELL"))
	assert.Equal(t, "pt", translator.Normalize(""))
}

func TestTranslator_T(t *testing.T) {
	t.Parallel()

	translator, err := i18n.NewTranslator(testFS(), "locales")
	require.NoError(t, err)

	assert.Equal(t, "Hello", translator.T("en", "GREETING"))
	assert.Equal(t, "Olá", translator.T("pt", "GREETING"))

	// Missing in pt falls back to the default language.
	assert.Equal(t, "Goodbye", translator.T("pt", "FAREWELL"))

	// Missing everywhere falls back to the key itself.
	assert.Equal(t, "UNKNOWN_KEY", translator.T("en", "UNKNOWN_KEY"))
}

func TestTranslator_Normalize(t *testing.T) {
	t.Parallel()

	translator, err := i18n.NewTranslator(testFS(), "locales")
	require.NoError(t, err)

	assert.Equal(t, "en", translator.Normalize(""))
	assert.Equal(t, "en", translator.Normalize("en"))
	assert.Equal(t, "en", translator.Normalize("en-US"))
	assert.Equal(t, "pt", translator.Normalize("pt"))
	assert.Equal(t, "pt", translator.Normalize("PT"))
	assert.Equal(t, "pt", translator.Normalize("pt-BR"))
	assert.Equal(t, "en", translator.Normalize("fr"))
	assert.Equal(t, "en", translator.Normalize("garbage value"))
}
