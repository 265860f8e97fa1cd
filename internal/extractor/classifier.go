package extractor

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/fincasdesk/platform/internal/case/domain"
)

//go:embed keywords.yaml
var defaultDictionary []byte

// Dictionary is the keyword configuration of the deterministic classifier
type Dictionary struct {
	Categories []CategoryRule `yaml:"categories"`
	Priority   struct {
		Urgent []string `yaml:"urgent"`
		High   []string `yaml:"high"`
		Low    []string `yaml:"low"`
	} `yaml:"priority"`
	Community                []string `yaml:"community"`
	AddressKeywords          []string `yaml:"address_keywords"`
	LocationKeywords         []string `yaml:"location_keywords"`
	AdditionalProblemPhrases []string `yaml:"additional_problem_phrases"`
}

// CategoryRule lists the patterns scoring one category
type CategoryRule struct {
	Category        domain.Category `yaml:"category"`
	DefaultPriority domain.Priority `yaml:"default_priority"`
	Patterns        []string        `yaml:"patterns"`
}

// ParseDictionary decodes a YAML keyword dictionary
func ParseDictionary(raw []byte) (*Dictionary, error) {
	var d Dictionary
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse keyword dictionary: %w", err)
	}
	for _, rule := range d.Categories {
		if !rule.Category.Valid() {
			return nil, fmt.Errorf("unknown category %q in keyword dictionary", rule.Category)
		}
		if !rule.DefaultPriority.Valid() {
			return nil, fmt.Errorf("category %s: unknown default priority %q", rule.Category, rule.DefaultPriority)
		}
	}
	return &d, nil
}

type compiledCategory struct {
	category        domain.Category
	defaultPriority domain.Priority
	patterns        []*regexp.Regexp
}

// Classifier assigns category and priority from keywords. It is safe for
// concurrent use.
type Classifier struct {
	categories []compiledCategory
	urgent     []*regexp.Regexp
	high       []*regexp.Regexp
	low        []*regexp.Regexp
	community  []*regexp.Regexp
	address    []*regexp.Regexp
	location   []*regexp.Regexp
	additional []*regexp.Regexp
}

// NewClassifier compiles a dictionary
func NewClassifier(d *Dictionary) (*Classifier, error) {
	c := &Classifier{}
	var err error
	for _, rule := range d.Categories {
		cc := compiledCategory{category: rule.Category, defaultPriority: rule.DefaultPriority}
		if cc.patterns, err = compileAll(rule.Patterns); err != nil {
			return nil, fmt.Errorf("category %s: %w", rule.Category, err)
		}
		c.categories = append(c.categories, cc)
	}

	groups := []struct {
		dst *[]*regexp.Regexp
		src []string
	}{
		{&c.urgent, d.Priority.Urgent},
		{&c.high, d.Priority.High},
		{&c.low, d.Priority.Low},
		{&c.community, d.Community},
		{&c.address, d.AddressKeywords},
		{&c.location, d.LocationKeywords},
		{&c.additional, d.AdditionalProblemPhrases},
	}
	for _, g := range groups {
		if *g.dst, err = compileAll(g.src); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultClassifier returns the classifier built from the embedded dictionary
func DefaultClassifier() *Classifier {
	d, err := ParseDictionary(defaultDictionary)
	if err != nil {
		panic(err)
	}
	c, err := NewClassifier(d)
	if err != nil {
		panic(err)
	}
	return c
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify returns the best scoring category and the priority for a message
func (c *Classifier) Classify(subject, body string) (domain.Category, domain.Priority) {
	text := normalize(subject + " " + body)
	category, defaultPriority := c.category(text)
	return category, c.priority(text, defaultPriority)
}

// CategoryOf returns the best scoring category of a text, or OTHER
func (c *Classifier) CategoryOf(text string) domain.Category {
	category, _ := c.category(normalize(text))
	return category
}

func (c *Classifier) category(text string) (domain.Category, domain.Priority) {
	best, bestScore := -1, 0
	for i, cc := range c.categories {
		score := 0
		for _, re := range cc.patterns {
			score += countWords(re, text)
		}
		// strict comparison keeps the earliest category on ties
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return domain.CategoryOther, domain.PriorityMedium
	}
	return c.categories[best].category, c.categories[best].defaultPriority
}

func (c *Classifier) priority(text string, fallback domain.Priority) domain.Priority {
	switch {
	case anyWord(c.urgent, text):
		return domain.PriorityUrgent
	case anyWord(c.high, text):
		return domain.PriorityHigh
	case anyWord(c.low, text):
		return domain.PriorityLow
	}
	return fallback
}

// MentionsAddress reports whether the text carries address keywords
func (c *Classifier) MentionsAddress(text string) bool {
	return anyWord(c.address, normalize(text))
}

// MentionsLocation reports whether the text carries floor/door/zone keywords
func (c *Classifier) MentionsLocation(text string) bool {
	return anyWord(c.location, normalize(text))
}

// MentionsAdditionalProblem reports phrases introducing a different problem,
// returning the phrase found.
func (c *Classifier) MentionsAdditionalProblem(text string) (string, bool) {
	text = normalize(text)
	for _, re := range c.additional {
		if loc := findWord(re, text); loc != nil {
			return text[loc[0]:loc[1]], true
		}
	}
	return "", false
}

var communityStopWords = map[string]bool{
	"hay": true, "tenemos": true, "tiene": true, "tengo": true, "se": true, "que": true,
	"con": true, "y": true, "en": true, "no": true, "desde": true, "por": true, "para": true,
}

// Community extracts a community name from the sender address or the body
func (c *Classifier) Community(sender, body string) string {
	text := normalize(sender + " " + body)
	for _, re := range c.community {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := ""
		for i := len(m) - 1; i > 0; i-- {
			if strings.TrimSpace(m[i]) != "" {
				name = m[i]
				break
			}
		}
		if name = trimCommunity(name); name != "" {
			return name
		}
	}
	return ""
}

func trimCommunity(name string) string {
	var words []string
	for _, w := range strings.Fields(name) {
		if communityStopWords[w] || len(words) == 5 {
			break
		}
		words = append(words, titleWord(w))
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}

func normalize(text string) string {
	return strings.ToLower(text)
}

func anyWord(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if findWord(re, text) != nil {
			return true
		}
	}
	return false
}

func countWords(re *regexp.Regexp, text string) int {
	n := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if onWordBoundaries(text, loc) {
			n++
		}
	}
	return n
}

func findWord(re *regexp.Regexp, text string) []int {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if onWordBoundaries(text, loc) {
			return loc
		}
	}
	return nil
}

// onWordBoundaries rejects matches that start or end inside a word. RE2's
// \b only understands ASCII, which breaks on accented Spanish text.
func onWordBoundaries(text string, loc []int) bool {
	if loc[0] == loc[1] {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text[loc[0]:])
	if isWordRune(first) && loc[0] > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
		if isWordRune(prev) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(text[:loc[1]])
	if isWordRune(last) && loc[1] < len(text) {
		next, _ := utf8.DecodeRuneInString(text[loc[1]:])
		if isWordRune(next) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
