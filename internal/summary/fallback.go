package summary

import (
	"math/rand/v2"
	"slices"
)

// SparsePhrase answers transcripts too short to summarize.
const SparsePhrase = "Silence holds stories untold"

// DefaultPhrases is the built-in fallback pool.
var DefaultPhrases = []string{
	"Time flows like river's song",
	"Whispers echo in empty space",
	"Quiet hearts still find their way",
	"Every word leaves gentle light",
	"Between silences, something true",
	"Small thoughts drift toward morning",
	"Stories rest where echoes fade",
}

// Pool hands out canned phrases when no provider produced usable text.
type Pool struct {
	phrases []string
	intn    func(n int) int
}

func NewPool(phrases []string) *Pool {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	return &Pool{phrases: slices.Clone(phrases), intn: rand.IntN}
}

func (p *Pool) Pick() string {
	return p.phrases[p.intn(len(p.phrases))]
}

func (p *Pool) Contains(phrase string) bool {
	return slices.Contains(p.phrases, phrase)
}
