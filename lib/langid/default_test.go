package langid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SharedInstance(t *testing.T) {
	id1 := Default()
	id2 := Default()
	assert.Same(t, id1, id2)

	require.NoError(t, id1.Close())
	assert.Equal(t, "en", Default().Identify([]byte("all of the files that came with the tool")),
		"default instance stays usable after close")
}

func TestDefault_Langs(t *testing.T) {
	id := Default()
	assert.Equal(t, []string{"de", "en", "es", "fr", "it", "nl", "pt", "ru"}, id.Langs())
	assert.Equal(t, 8, id.NumLangs())
	for i, lang := range id.Langs() {
		assert.Equal(t, i, id.LangIndex(lang))
	}
}

func TestDefault_IdentifySamples(t *testing.T) {
	tbl := []struct {
		lang string
		text string
	}{
		{"de", "das modell ist schnell und der test auch gut"},
		{"en", "all of the files that were found with the tool"},
		{"es", "pero una parte que está como los otros"},
		{"fr", "il est dans la maison avec les autres et pas vous non plus"},
		{"it", "questo lavoro è anche della gente che sono più felici"},
		{"nl", "het is niet voor een huis maar ook naar deze kant"},
		{"pt", "isso não é uma coisa e você também já sabe muito bem"},
		{"ru", "это было как всегда но если только по правде из его слов"},
	}

	id := Default()
	for _, tt := range tbl {
		t.Run(tt.lang, func(t *testing.T) {
			likely := id.IdentifyLikely([]byte(tt.text))
			assert.Equal(t, tt.lang, likely.Lang)
			assert.Positive(t, likely.LogProb, "several own features should fire")
		})
	}
}

func TestDefault_EmptyInput(t *testing.T) {
	// all priors are equal, the tie goes to the first language
	likely := Default().IdentifyLikely(nil)
	assert.Equal(t, Likely{Lang: "de", Index: 0, LogProb: 0}, likely)
}
