package insight

import (
	"regexp"
	"strings"

	"docinsight/internal/models"
)

type section int

const (
	sectionNone section = iota
	sectionKeySentences
	sectionSummary
	sectionKeywords
	sectionImplications
)

var headings = map[string]section{
	labelKeySentences:      sectionKeySentences,
	"KEY SENTENCE":         sectionKeySentences,
	labelSummary:           sectionSummary,
	labelKeywords:          sectionKeywords,
	"KEY WORDS":            sectionKeywords,
	labelImplications:      sectionImplications,
	"ECONOMIC IMPLICATION": sectionImplications,
}

var (
	listMarker  = regexp.MustCompile(`^(?:[-*•·]+\s+|\(?\d{1,2}[.)]\s+)`)
	blankBlocks = regexp.MustCompile(`\n{3,}`)
)

// sectionOrder is the only order headings are accepted in.
var sectionOrder = []section{sectionKeySentences, sectionSummary, sectionKeywords, sectionImplications}

// parseReply splits a reply on the four section headings. A heading only
// counts when it is the next one expected, so a copied sentence such as
// "Keywords: a, b" stays inside its section. It reports false when a heading
// is missing or every section came back empty.
func parseReply(reply string) (*models.AnalysisResult, bool) {
	content := make(map[section][]string, len(sectionOrder))
	current := sectionNone
	next := 0

	lines := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	for _, line := range lines {
		if next < len(sectionOrder) {
			if sec, rest, ok := matchHeading(line); ok && sec == sectionOrder[next] {
				current = sec
				next++
				if rest != "" {
					content[sec] = append(content[sec], rest)
				}
				continue
			}
		}
		if current != sectionNone {
			content[current] = append(content[current], line)
		}
	}
	if next != len(sectionOrder) {
		return nil, false
	}

	result := &models.AnalysisResult{
		KeySentences:         listItems(content[sectionKeySentences], models.MaxKeySentences),
		Summary:              paragraph(content[sectionSummary]),
		Keywords:             keywordItems(content[sectionKeywords]),
		EconomicImplications: listItems(content[sectionImplications], models.MaxEconomicImplications),
	}
	if len(result.KeySentences) == 0 && result.Summary == "" &&
		len(result.Keywords) == 0 && len(result.EconomicImplications) == 0 {
		return nil, false
	}
	return result, true
}

// matchHeading recognises "[SUMMARY]", "## Summary", "Summary:" and
// "**Key_Sentences:**". Text after the label ("[KEYWORDS] a, b") is returned
// as rest, but only on bracketed or markdown-decorated lines.
func matchHeading(line string) (section, string, bool) {
	trimmed := strings.TrimSpace(line)
	decorated := strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "**")
	stripped := strings.TrimLeft(trimmed, "#*[ ")
	if stripped == "" {
		return sectionNone, "", false
	}
	head, rest := stripped, ""
	if i := strings.IndexAny(stripped, ":]"); i >= 0 {
		head, rest = stripped[:i], stripped[i+1:]
	}
	head = strings.Trim(head, "*[] ")
	key := strings.Join(strings.Fields(strings.ToUpper(strings.ReplaceAll(head, "_", " "))), " ")
	sec, ok := headings[key]
	if !ok {
		return sectionNone, "", false
	}
	rest = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rest), "*]: "))
	if rest != "" && !decorated {
		return sectionNone, "", false
	}
	return sec, rest, true
}

func paragraph(lines []string) string {
	text := strings.TrimSpace(strings.Join(trimAll(lines), "\n"))
	return blankBlocks.ReplaceAllString(text, "\n\n")
}

func listItems(lines []string, limit int) []string {
	items := make([]string, 0, limit)
	for _, line := range lines {
		item := cleanItem(line)
		if item == "" {
			continue
		}
		items = append(items, item)
		if len(items) == limit {
			break
		}
	}
	return items
}

func keywordItems(lines []string) []string {
	items := listItems(lines, models.MaxKeywords)
	if len(items) == 1 && strings.ContainsAny(items[0], ",、") {
		parts := strings.FieldsFunc(items[0], func(r rune) bool { return r == ',' || r == '、' })
		return listItems(parts, models.MaxKeywords)
	}
	return items
}

func cleanItem(line string) string {
	item := strings.TrimSpace(line)
	if strings.HasPrefix(item, "```") || item == "[" || item == "]" {
		return ""
	}
	item = listMarker.ReplaceAllString(item, "")
	item = strings.ReplaceAll(item, "**", "")
	item = strings.TrimSuffix(strings.TrimSpace(item), ",")
	item = strings.Trim(item, "\"'“”‘’`")
	return strings.TrimSpace(item)
}

func trimAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}
