package fetch

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// Detector guesses an ISO 639-1 language tag for text, or "" when unsure.
type Detector interface {
	Detect(text string) string
}

// linguaDetector restricts lingua to the languages the sources actually
// serve; building it is deferred to first use because model loading is slow.
type linguaDetector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// NewDetector returns a lingua-backed Detector.
func NewDetector() Detector {
	return &linguaDetector{}
}

func (d *linguaDetector) Detect(text string) string {
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.Chinese, lingua.Japanese, lingua.German, lingua.French, lingua.Spanish).
			WithMinimumRelativeDistance(0.1).
			Build()
	})

	if strings.TrimSpace(text) == "" {
		return ""
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
