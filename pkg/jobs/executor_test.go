package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualifyTable(t *testing.T) {
	table, err := qualifyTable("usergrievance")
	assert.NoError(t, err)
	assert.Equal(t, "public.usergrievance", table)

	table, err = qualifyTable("app.faqs")
	assert.NoError(t, err)
	assert.Equal(t, "app.faqs", table)

	_, err = qualifyTable("")
	assert.Error(t, err)

	_, err = qualifyTable("users; DROP TABLE users")
	assert.Error(t, err)

	_, err = qualifyTable(`public."users"`)
	assert.Error(t, err)
}

func TestTextForTableGrievance(t *testing.T) {
	row := map[string]any{
		"enhanced_query":    "Water leakage near MG Road, Bengaluru",
		"grievance_text":    "water leaking",
		"image_description": "a burst pipe",
	}
	assert.Equal(t, "Water leakage near MG Road, Bengaluru", TextForTable("public.usergrievance", row))

	// Falls back down the preference order when fields are empty.
	row["enhanced_query"] = "  "
	assert.Equal(t, "water leaking", TextForTable("usergrievance", row))
	delete(row, "grievance_text")
	assert.Equal(t, "a burst pipe", TextForTable("usergrievance", row))
}

func TestTextForTableJoins(t *testing.T) {
	assert.Equal(t, "How to apply? Submit form 12 online.",
		TextForTable("faqs", map[string]any{
			"question": "How to apply?",
			"answer":   "Submit form 12 online.",
			"id":       int64(4),
		}))

	assert.Equal(t, "Water Board Manages city water supply HQ Tower Road",
		TextForTable("departments", map[string]any{
			"name":        "Water Board",
			"description": "Manages city water supply",
			"address":     "HQ Tower Road",
		}))

	assert.Equal(t, "Budget alert Spending above forecast Review contracts",
		TextForTable("aiinsights", map[string]any{
			"title":              "Budget alert",
			"description":        "Spending above forecast",
			"recommended_action": "Review contracts",
		}))
}

func TestTextForTableUnknownFallsBack(t *testing.T) {
	text := TextForTable("sometable", map[string]any{
		"b_field": "beta",
		"a_field": "alpha",
		"count":   int64(3),
		"empty":   "  ",
	})
	assert.Equal(t, "alpha beta", text)

	assert.Equal(t, "", TextForTable("sometable", map[string]any{"count": int64(3)}))
}
