package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_DefaultEnglish(t *testing.T) {
	tpl, err := NewTemplates(nil)
	require.NoError(t, err)

	subject, body, err := tpl.Render("klingon", TemplateData{
		RecipientName: "Alice",
		DocumentName:  "will.pdf",
		DocumentURL:   "https://x/documents/will.pdf",
		ReleaseID:     "rel-9",
		LastCheckIn:   FormatTime(time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, "Important documents: will.pdf", subject)
	assert.Contains(t, body, "Dear Alice,")
	assert.Contains(t, body, "No description provided")
	assert.Contains(t, body, "Link: https://x/documents/will.pdf")
	assert.Contains(t, body, "2024-01-02 03:04 UTC")
	assert.Contains(t, body, "rel-9")
}

func TestTemplates_LanguageOverride(t *testing.T) {
	tpl, err := NewTemplates(map[string]string{"Hindi": "दस्तावेज़: {{.DocumentName}}\n---\nनमस्ते {{.RecipientName}}"})
	require.NoError(t, err)

	subject, body, err := tpl.Render("hindi", TemplateData{RecipientName: "Ravi", DocumentName: "will.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "दस्तावेज़: will.pdf", subject)
	assert.Equal(t, "नमस्ते Ravi", body)

	_, err = NewTemplates(map[string]string{"x": "no separator"})
	assert.Error(t, err)
}
