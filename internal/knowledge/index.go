package knowledge

import (
	"regexp"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"

	"github.com/sheet-agent/backend/internal/storage/models"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {},
	"might": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"file": {}, "data": {}, "contains": {},
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize extracts case-normalized keywords from free text. Short
// tokens and stop words are dropped so only discriminating terms index.
func Tokenize(text string) []string {
	var words []string

	doc, err := prose.NewDocument(strings.ToLower(text),
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err == nil {
		for _, tok := range doc.Tokens() {
			words = append(words, wordPattern.FindAllString(tok.Text, -1)...)
		}
	} else {
		words = wordPattern.FindAllString(strings.ToLower(text), -1)
	}

	seen := make(map[string]struct{})
	var keywords []string
	for _, w := range words {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}

	return keywords
}

// keywordIndex maps a keyword to the set of file names whose summary
// contains it. It is derived data, rebuilt wholesale whenever any
// summary changes; readers never observe a partial rebuild.
type keywordIndex struct {
	mu        sync.RWMutex
	byKeyword map[string]map[string]struct{}
	summaries map[string]models.FileSummary
}

func newKeywordIndex() *keywordIndex {
	return &keywordIndex{
		byKeyword: make(map[string]map[string]struct{}),
		summaries: make(map[string]models.FileSummary),
	}
}

func (idx *keywordIndex) rebuild(summaries []models.FileSummary) {
	byKeyword := make(map[string]map[string]struct{})
	byFile := make(map[string]models.FileSummary, len(summaries))

	for _, s := range summaries {
		byFile[s.FileName] = s
		keywords := s.Keywords
		if len(keywords) == 0 {
			keywords = Tokenize(s.Summary)
		}
		for _, kw := range keywords {
			if byKeyword[kw] == nil {
				byKeyword[kw] = make(map[string]struct{})
			}
			byKeyword[kw][s.FileName] = struct{}{}
		}
	}

	idx.mu.Lock()
	idx.byKeyword = byKeyword
	idx.summaries = byFile
	idx.mu.Unlock()
}

// score returns the keyword-overlap count per file for the given query
// keywords, together with the summary metadata needed for ranking.
func (idx *keywordIndex) score(queryKeywords []string) (map[string]int, map[string]models.FileSummary) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]int)
	for _, kw := range queryKeywords {
		for fileName := range idx.byKeyword[kw] {
			scores[fileName]++
		}
	}

	matched := make(map[string]models.FileSummary, len(scores))
	for fileName := range scores {
		matched[fileName] = idx.summaries[fileName]
	}

	return scores, matched
}
