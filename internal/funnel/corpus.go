package funnel

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/textutil"
)

// snippetRunes bounds the text returned per retrieved document.
const snippetRunes = 220

type doc struct {
	name   string
	text   string
	tokens map[string]struct{}
}

// Snippet is one retrieved document excerpt.
type Snippet struct {
	Name string  `json:"name"`
	Text string  `json:"text"`
	Rel  float64 `json:"relevance"`
}

// Corpus is a small read-only set of local knowledge documents.
type Corpus struct {
	docs []doc
}

// LoadCorpus reads every .md and .txt file under dir in lexical path order.
// A missing or empty dir yields an empty corpus.
func LoadCorpus(dir string) (*Corpus, error) {
	c := &Corpus{}
	if dir == "" {
		return c, nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return c, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "funnel: read %s", path)
		}
		c.Add(d.Name(), string(data))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: load corpus %s", dir)
	}
	return c, nil
}

// Add appends a document. Empty text is ignored.
func (c *Corpus) Add(name, text string) {
	text = textutil.NormalizeSpace(text)
	if text == "" {
		return
	}
	c.docs = append(c.docs, doc{name: name, text: text, tokens: textutil.TokenSet(text)})
}

// Len is the number of documents.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.docs)
}

// Retrieve returns up to k documents sharing tokens with query, ranked by
// |q ∩ doc| / max(1, √|q|). Ties keep corpus order.
func (c *Corpus) Retrieve(query string, k int) []Snippet {
	if c.Len() == 0 {
		return nil
	}
	q := textutil.TokenSet(query)
	if len(q) == 0 {
		return nil
	}
	norm := math.Max(1, math.Sqrt(float64(len(q))))

	var hits []Snippet
	for _, d := range c.docs {
		overlap := 0
		for t := range q {
			if _, ok := d.tokens[t]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hits = append(hits, Snippet{Name: d.name, Text: textutil.Clip(d.text, snippetRunes), Rel: float64(overlap) / norm})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Rel > hits[j].Rel })

	k = max(1, k)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
