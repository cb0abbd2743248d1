package crawl

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Government sites bury their content under navigation, counters and policy
// footers. The cleaner works line by line: section markers switch noise mode
// on, and only a long line with a content indicator switches it back off.
var noiseSectionMarkers = compileAll([]string{
	`visitor counter`,
	`last update`,
	`main navigation`,
	`footer`,
	`header`,
	`menu`,
	`navigation`,
	`breadcrumb`,
	`copyright`,
	`privacy policy`,
	`terms & conditions`,
	`website policy`,
	`hyperlink policy`,
	`web information manager`,
	`disclaimer`,
	`cookie policy`,
	`frequently visited`,
	`quick links`,
	`related links`,
	`useful links`,
	`external links`,
	`sign in`,
	`sign out`,
	`sign up`,
	`login`,
	`logout`,
	`register`,
	`search`,
	`subscribe`,
	`contact us`,
	`follow us`,
	`connect with us`,
	`social media`,
	`share this`,
	`who's who`,
	`team directory`,
	`contact directory`,
	`email\s*id`,
	`phone\s*number`,
	`designation\s*\|`,
	`name\s*\|\s*designation`,
	`name\s*\|\s*email`,
})

// Lines matching any of these are dropped outright.
var skipLinePatterns = compileAll([]string{
	`^\s*[\*\-\|=_#]+\s*$`,
	`^\s*#+\s*$`,
	`^\s*---+\s*$`,
	`^\s*\d{5,}\s*$`,
	`^\s*\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\s*$`,
	`^\[.*\]\(.*\)$`,
	`^https?://`,
	`^www\.`,
	`^\s*\[.*\]\s*$`,
	`^\s*\*\s*home\s*$`,
	`^\s*\*\s*about\s*$`,
	`^\s*\*\s*contact\s*$`,
	`home\s*\|\s*about`,
	`^\s*\|\s*\w+\s*\|\s*\w+\s*\|`,
	`^\s*welcome\s+\w+\s*\(sign out\)`,
	`^\s*anonymous\s*\(sign`,
	`^\s*click here`,
	`^\s*read more`,
	`^\s*view all`,
	`^\s*show more`,
	`\w+\[at\]\w+\[dot\]`,
	`\w+@\w+\.\w+`,
})

// A long line with one of these words ends a noise section.
var contentIndicators = compileAll([]string{
	`\b(policy|program|project|initiative|scheme|report|study|research|analysis|development|implementation)\b`,
	`\b(objective|goal|vision|mission|strategy|approach|framework|guideline)\b`,
	`\b(government|ministry|department|committee|council|commission)\b`,
	`\b(economic|social|environmental|sustainable|climate|energy|agriculture)\b`,
})

var (
	markdownLinkRE  = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
	urlRE           = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	wwwRE           = regexp.MustCompile(`www\.[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	emailRE         = regexp.MustCompile(`\S+@\S+`)
	obfuscatedAtRE  = regexp.MustCompile(`\w+\[at\]\w+\[dot\]\w+`)
	emphasisRE      = regexp.MustCompile(`[\*_]{1,3}([^\*_]+)[\*_]{1,3}`)
	listMarkerRE    = regexp.MustCompile(`^\s*[\*\-\+]\s+`)
	numberedListRE  = regexp.MustCompile(`^\s*\d+\.\s+`)
	headingMarkerRE = regexp.MustCompile(`^\s*#+\s*`)
	spacesRE        = regexp.MustCompile(`\s+`)
)

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// CleanContent strips navigation, boilerplate, links and formatting from
// extracted page text, keeping only substantial content lines.
func CleanContent(text string) string {
	if text == "" {
		return ""
	}

	var kept []string
	inNoiseSection := false
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		lower := strings.ToLower(stripped)

		if anyMatch(noiseSectionMarkers, lower) {
			inNoiseSection = true
			continue
		}
		if inNoiseSection {
			if len(stripped) > 80 && anyMatch(contentIndicators, lower) {
				inNoiseSection = false
			} else {
				continue
			}
		}

		if anyMatch(skipLinePatterns, lower) {
			continue
		}
		if len(stripped) < 15 {
			continue
		}
		if mostlySpecial(stripped) {
			continue
		}

		cleaned := markdownLinkRE.ReplaceAllString(stripped, "$1")
		cleaned = urlRE.ReplaceAllString(cleaned, "")
		cleaned = wwwRE.ReplaceAllString(cleaned, "")
		cleaned = emailRE.ReplaceAllString(cleaned, "")
		cleaned = obfuscatedAtRE.ReplaceAllString(cleaned, "")
		cleaned = emphasisRE.ReplaceAllString(cleaned, "$1")
		cleaned = listMarkerRE.ReplaceAllString(cleaned, "")
		cleaned = numberedListRE.ReplaceAllString(cleaned, "")
		cleaned = headingMarkerRE.ReplaceAllString(cleaned, "")
		cleaned = strings.TrimSpace(spacesRE.ReplaceAllString(cleaned, " "))

		if len(cleaned) >= 20 && alphaCount(cleaned) >= 15 {
			kept = append(kept, cleaned)
		}
	}

	// Drop consecutive duplicates (repeated nav fragments survive cleaning
	// on some sites).
	var final []string
	prev := ""
	for _, line := range kept {
		if line != prev {
			final = append(final, line)
			prev = line
		}
	}
	return strings.Join(final, "\n")
}

func mostlySpecial(line string) bool {
	alpha, special := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			alpha++
		}
		if strings.ContainsRune("|*-_#[](){}=+~`", r) {
			special++
		}
	}
	total := len([]rune(line))
	if total == 0 {
		return false
	}
	specialRatio := float64(special) / float64(total)
	alphaRatio := float64(alpha) / float64(total)
	return specialRatio > 0.4 || alphaRatio < 0.3
}

func alphaCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}

// FormatArtifact renders the stored text artifact: title, an underline, then
// the cleaned body.
func FormatArtifact(title, content string) string {
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("%s\n%s\n\n%s", title, strings.Repeat("=", len(title)), content)
}

// TitleFromPDFURL derives a readable document title from a PDF file name.
func TitleFromPDFURL(rawURL string) string {
	name := rawURL
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.Index(name, "?"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".pdf")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	if name == "" {
		return "Untitled"
	}
	return titleWords(name)
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
