package blob

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Path prefixes per artifact kind. Prefixes are disjoint so stages never
// write into each other's namespace. The griviences prefix is historic and
// preserved for compatibility with existing stored artifacts.
const (
	CrawledContentPrefix = "crawled-content"
	GrievancePrefix      = "griviences"
	KnowledgeBasePrefix  = "knowledgebase/processed"
	ProgressReportPrefix = "progress-reports"
)

// CrawledPagePath maps a page URL to its text artifact path:
// crawled-content/<domain>/<sanitized-path>.txt
func CrawledPagePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid page URL %q", rawURL)
	}
	return fmt.Sprintf("%s/%s/%s.txt", CrawledContentPrefix, u.Host, sanitizePagePath(u.Path)), nil
}

// CrawledFolder returns the blob folder name for a crawl job, which is the
// page domain. Embeddings messages reference this folder.
func CrawledFolder(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid page URL %q", rawURL)
	}
	return u.Host, nil
}

// sanitizePagePath flattens a URL path into a single file-name-safe segment.
func sanitizePagePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "index"
	}
	for _, ext := range []string{".html", ".htm", ".php", ".aspx", ".pdf"} {
		if strings.HasSuffix(strings.ToLower(p), ext) {
			p = p[:len(p)-len(ext)]
			break
		}
	}
	p = strings.ReplaceAll(p, "/", "_")
	var b strings.Builder
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "index"
	}
	return out
}

// GrievanceArtifactPath returns the path for one of a grievance's analysis
// artifacts, e.g. grievance_report.md or grievance_analysis_final.json.
func GrievanceArtifactPath(grievanceID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", GrievancePrefix, grievanceID, fileName)
}

// KnowledgeBaseArtifactPath returns the processed knowledge JSON path for a
// knowledge-base document.
func KnowledgeBaseArtifactPath(kbID string) string {
	return fmt.Sprintf("%s/%s/knowledge_base.json", KnowledgeBasePrefix, kbID)
}

// ProgressReportPath returns the Markdown report path for a department scan
// at the given time: progress-reports/<department_id>/<yyyymmdd>_<hhmmss>.md
func ProgressReportPath(departmentID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.md", ProgressReportPrefix, departmentID, at.UTC().Format("20060102_150405"))
}
