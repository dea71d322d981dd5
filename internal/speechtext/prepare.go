// Package speechtext turns generated analysis text into something a speech
// model reads naturally.
//
// Model output is usually markdown. Read aloud verbatim it produces "hash
// hash Summary" and "asterisk asterisk", so the Preparer strips the markup,
// expands a few abbreviations, removes bracketed references and normalises
// punctuation before the text is synthesized.
package speechtext

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultMaxRunes bounds the text sent for synthesis.
const DefaultMaxRunes = 5000

// Regex patterns for reference removal and clean-up.
const (
	abbreviationPattern = `\b(?:e\.g\.|i\.e\.|etc\.|vs\.|approx\.|Mrs\.|Mr\.|Dr\.|Inc\.)`
	referencePattern    = `\[\d+(?:[,\-–]\s*\d+)*\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	repeatedMarkPattern = `([!?,;:])[!?,;:]+`
	whitespacePattern   = `\s+`
	spaceBeforePunct    = `\s+([.,!?;:])`
)

const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// abbreviations maps the unambiguous abbreviations to their spoken form.
// "St." is left alone because it is both Street and Saint.
var abbreviations = map[string]string{
	"e.g.":    "for example",
	"i.e.":    "that is",
	"etc.":    "et cetera",
	"vs.":     "versus",
	"approx.": "approximately",
	"Mr.":     "Mister",
	"Mrs.":    "Missus",
	"Dr.":     "Doctor",
	"Inc.":    "Incorporated",
}

// Preparer holds the markdown parser and compiled patterns. It is safe for
// concurrent use.
type Preparer struct {
	markdown     parser.Parser
	abbreviation *regexp.Regexp
	reference    *regexp.Regexp
	repeatedMark *regexp.Regexp
	whitespace   *regexp.Regexp
	spaceBefore  *regexp.Regexp
	punctuation  *strings.Replacer
	maxRunes     int
}

// NewPreparer builds a Preparer that truncates its output to maxRunes. A
// non-positive maxRunes selects DefaultMaxRunes.
func NewPreparer(maxRunes int) *Preparer {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}

	return &Preparer{
		markdown:     goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser(),
		abbreviation: regexp.MustCompile(abbreviationPattern),
		reference:    regexp.MustCompile(referencePattern),
		repeatedMark: regexp.MustCompile(repeatedMarkPattern),
		whitespace:   regexp.MustCompile(whitespacePattern),
		spaceBefore:  regexp.MustCompile(spaceBeforePunct),
		punctuation: strings.NewReplacer(
			emDash, ", ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		maxRunes: maxRunes,
	}
}

// MaxRunes reports the truncation limit.
func (p *Preparer) MaxRunes() int {
	return p.maxRunes
}

// Prepare returns text ready for synthesis, or "" when nothing speakable
// remains.
func (p *Preparer) Prepare(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	prepared := p.stripMarkdown(text)
	prepared = p.terminateLines(prepared)
	prepared = p.abbreviation.ReplaceAllStringFunc(prepared, func(match string) string {
		return abbreviations[match]
	})
	prepared = p.reference.ReplaceAllString(prepared, "")
	prepared = p.punctuation.Replace(prepared)
	prepared = p.whitespace.ReplaceAllString(prepared, " ")
	prepared = p.spaceBefore.ReplaceAllString(prepared, "$1")
	prepared = p.repeatedMark.ReplaceAllString(prepared, "$1")
	prepared = strings.TrimSpace(prepared)

	if prepared == "" {
		return ""
	}

	return ensureSentenceEnding(truncateAtSentence(prepared, p.maxRunes))
}

// stripMarkdown parses text as markdown and keeps only what is read aloud:
// inline text, code spans, and link and image labels. Code blocks, raw HTML
// and rules are dropped. Every block ends on its own line.
func (p *Preparer) stripMarkdown(text string) string {
	source := []byte(strings.ReplaceAll(text, "\r\n", "\n"))
	document := p.markdown.Parse(gmtext.NewReader(source))

	var out bytes.Buffer

	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				out.Write(util.UnescapePunctuations(n.Segment.Value(source)))

				if n.SoftLineBreak() || n.HardLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(n.Label(source))
			}

			return ast.WalkSkipChildren, nil
		}

		if !entering && node.Type() == ast.TypeBlock {
			out.WriteByte('\n')
		}

		return ast.WalkContinue, nil
	})

	return out.String()
}

// terminateLines ends each non-empty line with a full stop when it has no
// punctuation of its own, so headings and bullets are read as separate
// sentences once newlines collapse into spaces.
func (p *Preparer) terminateLines(text string) string {
	lines := strings.Split(text, "\n")

	for index, line := range lines {
		trimmed := strings.TrimRightFunc(line, unicode.IsSpace)
		if trimmed == "" {
			continue
		}

		last, _ := utf8.DecodeLastRuneInString(trimmed)
		if !unicode.IsPunct(last) {
			trimmed += "."
		}

		lines[index] = trimmed
	}

	return strings.Join(lines, "\n")
}

// truncateAtSentence cuts text to at most maxRunes runes, preferring the last
// sentence end inside the limit. Without one it falls back to the last word
// boundary and leaves a rune free for the terminator added afterwards.
func truncateAtSentence(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)

	cut := string(runes[:maxRunes])

	sentenceEnd := strings.LastIndexAny(cut, ".!?")
	if sentenceEnd > 0 {
		return cut[:sentenceEnd+1]
	}

	shorter := string(runes[:maxRunes-1])
	if unicode.IsSpace(runes[maxRunes-1]) {
		return strings.TrimSpace(shorter)
	}

	wordEnd := strings.LastIndexFunc(shorter, unicode.IsSpace)
	if wordEnd > 0 {
		return strings.TrimSpace(shorter[:wordEnd])
	}

	return shorter
}

func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)

	switch lastChar {
	case '.', '!', '?':
		return trimmed
	case ',', ';', ':', '-':
		return strings.TrimRightFunc(trimmed[:len(trimmed)-utf8.RuneLen(lastChar)], unicode.IsSpace) + "."
	default:
		return trimmed + "."
	}
}
