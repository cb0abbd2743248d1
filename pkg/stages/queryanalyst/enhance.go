package queryanalyst

import (
	"fmt"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// errorIndicators mark provider failure text that leaked into image output.
// Any hit scrubs the field so API errors never pollute the enhanced query.
var errorIndicators = []string{"error", "permission denied", "suspended", "403", "api_key"}

func containsErrorIndicator(s string) bool {
	lower := strings.ToLower(s)
	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// sanitizeImageSummary scrubs provider-error text from the image fields.
func sanitizeImageSummary(description, extractedText string) (string, string) {
	if containsErrorIndicator(description) {
		description = "No image description available."
	}
	if containsErrorIndicator(extractedText) {
		extractedText = ""
	}
	return description, extractedText
}

// BuildEnhancedQuery deterministically concatenates the raw grievance text
// with the image description, visible text and location summary.
func BuildEnhancedQuery(query string, image *models.ImageAnalysis, location *models.LocationData) string {
	description, extractedText := "", ""
	if image != nil {
		description, extractedText = sanitizeImageSummary(image.Description, image.ExtractedText)
	}

	var locationInfo strings.Builder
	if location != nil && location.Confidence != models.ConfidenceNone && location.Confidence != "" {
		address := location.Address
		if address == "" {
			address = "Not specified"
		}
		locationInfo.WriteString("\nLocation: " + address)
		if len(location.Landmarks) > 0 {
			landmarks := location.Landmarks
			if len(landmarks) > 3 {
				landmarks = landmarks[:3]
			}
			locationInfo.WriteString("\nNearby landmarks: " + strings.Join(landmarks, ", "))
		}
		if location.AreaType != "" {
			locationInfo.WriteString("\nArea type: " + location.AreaType)
		}
	}

	return strings.TrimSpace(fmt.Sprintf("%s\n\nImage description: %s\nVisible text in image: %s%s",
		strings.TrimSpace(query), description, extractedText, locationInfo.String()))
}

// enrichSearchQueries appends category/location-contextualized search strings
// to the classifier-generated policy queries, capping the total at six.
func enrichSearchQueries(policyQueries []string, mainCategory, city, district, state string) []string {
	if len(policyQueries) > 3 {
		policyQueries = policyQueries[:3]
	}

	var additional []string
	if mainCategory != "" {
		searchLocation := firstNonEmpty(city, district, state, "India")
		additional = append(additional,
			fmt.Sprintf("%s latest news %s India", mainCategory, searchLocation),
			fmt.Sprintf("%s government policy scheme %s India", mainCategory, searchLocation),
			fmt.Sprintf("%s municipal corporation %s India", mainCategory, searchLocation),
		)
		if state != "" && state != "India" {
			additional = append(additional, fmt.Sprintf("%s %s government initiative India", mainCategory, state))
		}
	}
	if len(additional) > 3 {
		additional = additional[:3]
	}
	return append(policyQueries, additional...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
