package langid

import "sync"

// compiled-in model parameters. The set is a compact bootstrap for running
// without a model file, covering common European languages by their most
// telling function words. Real deployments load a trained model with Load.
var (
	builtinLangs = []string{"de", "en", "es", "fr", "it", "nl", "pt", "ru"}

	// builtinSeqs holds per-language byte sequences frequent in that language
	// and rare in the others. Spaces anchor word boundaries the way the
	// sequences occur in running text.
	builtinSeqs = map[string][]string{
		"de": {" und ", " nicht ", " der ", " ist ", " auch ", " eine ", " werden ", " über ", " ich ", " sind "},
		"en": {" the ", " and ", " of ", " that ", " with ", " have ", " this ", " from ", " they ", " which "},
		"es": {" que ", " los ", " una ", " para ", " está ", " pero ", " como ", " más ", " muy ", "ción "},
		"fr": {" les ", " est ", " dans ", " pour ", " pas ", " avec ", " être ", " vous ", " c'est ", " aussi "},
		"it": {" che ", " della ", " sono ", " anche ", " questo ", " perché ", " più ", " gli ", " alla ", "zione "},
		"nl": {" het ", " een ", " niet ", " voor ", " maar ", " zijn ", " ook ", " naar ", " deze ", " wordt "},
		"pt": {" não ", " uma ", " você ", " isso ", " também ", " são ", " então ", " muito ", " já ", "ção "},
		"ru": {" что ", " это ", " как ", " его ", " она ", " только ", " если ", " быть ", " из ", " по "},
	}
)

// weights of the compiled-in model, a matched sequence votes for its own
// language and mildly against the rest
const (
	builtinOwnWeight   = 2.5
	builtinOtherWeight = -0.25
)

var defaultIdentifier = struct {
	once  sync.Once
	ident *Identifier
}{}

// Default returns the shared Identifier over the compiled-in model. The
// instance is safe for concurrent use and Close on it is a no-op. Panics if
// the compiled-in tables are broken, which is a bug in this package.
func Default() *Identifier {
	defaultIdentifier.once.Do(func() {
		m, err := builtinModel()
		if err == nil {
			defaultIdentifier.ident, err = New(m)
		}
		if err != nil {
			panic("langid: compiled-in model is broken: " + err.Error())
		}
	})
	return defaultIdentifier.ident
}

// builtinModel assembles the compiled-in tables. Iteration goes over the
// ordered language list, the feature numbering stays deterministic.
func builtinModel() (*Model, error) {
	feats := make([]Feature, 0, len(builtinLangs)*10)
	for li, lang := range builtinLangs {
		for _, seq := range builtinSeqs[lang] {
			weights := make([]float64, len(builtinLangs))
			for i := range weights {
				weights[i] = builtinOtherWeight
			}
			weights[li] = builtinOwnWeight
			feats = append(feats, Feature{Seq: seq, Weights: weights})
		}
	}
	return BuildModel(builtinLangs, make([]float64, len(builtinLangs)), feats)
}
