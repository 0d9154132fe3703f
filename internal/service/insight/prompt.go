package insight

import "fmt"

const (
	labelKeySentences = "KEY SENTENCES"
	labelSummary      = "SUMMARY"
	labelKeywords     = "KEYWORDS"
	labelImplications = "ECONOMIC IMPLICATIONS"
)

var implicationPerspectives = []string{
	"Industrial ripple effects",
	"Market growth potential",
	"Investment risk",
	"Policy implications",
	"Global competitive landscape",
}

func systemPrompt(language string) string {
	return fmt.Sprintf("You are an expert analyst of science, technology and the economy. Answer in %s.", language)
}

func userPrompt(document string) string {
	perspectives := ""
	for _, p := range implicationPerspectives {
		perspectives += "- " + p + "\n"
	}
	return fmt.Sprintf(`Analyze the science and technology document below.
Answer with exactly four sections. Write each heading verbatim on its own line, in this order:

[%[1]s]
The 10 most important sentences, copied verbatim from the document (no paraphrasing), one per line, without numbering.

[%[2]s]
A 5 to 7 sentence summary of the document. Include the core principle and characteristics of the technology and its research results. Keep it concise and understandable for a general reader.

[%[3]s]
The 10 most important keywords, mostly technical terms, as single words or short phrases, one per line.

[%[4]s]
Exactly five lines, one per perspective below, each written as "<perspective>: <2 to 3 sentences>" and grounded in evidence from the document:
%[5]s
Keep the four headings in English even when the answer is in another language. Do not add any other sections.

Document:
%[6]s`, labelKeySentences, labelSummary, labelKeywords, labelImplications, perspectives, document)
}
