package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", `{"tables": []}`, `{"tables": []}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{}\n```", `{}`},
		{"escaped quotes", `{\"a\": \"b\"}`, `{"a": "b"}`},
		{"several fences", "```json{}``````json", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.reply))
		})
	}
}

func TestParse_AllKinds(t *testing.T) {
	// Given: a reply with every kind and a wrong docPage
	reply := `{
	  "tables": [{"tableName": " Q1 ", "docPage": 7, "content": "| a |", "xy": [1, 2, 3, 4]}],
	  "images": [{"imageName": "Logo", "docPage": "0", "content": "a red logo", "xy": ["10", "20", "30.5", "40"]}],
	  "labels": [
	    {"labelName": "Title", "content": "Report", "xy": [0, 0, 100, 20]},
	    {"labelName": "Body", "content": {"text": "nested"}, "xy": [1, 2]}
	  ]
	}`

	// When: parsing as page 2
	b, err := Parse(reply, 2)

	// Then: page comes from the caller and boxes are read leniently
	require.NoError(t, err)
	require.Len(t, b.Tables, 1)
	require.Len(t, b.Images, 1)
	require.Len(t, b.Labels, 2)
	assert.Equal(t, 4, b.Len())

	assert.Equal(t, store.Element{Name: "Q1", Page: 2, Content: "| a |", Box: store.BoundingBox{1, 2, 3, 4}}, b.Tables[0])
	assert.Equal(t, store.BoundingBox{10, 20, 30.5, 40}, b.Images[0].Box)
	assert.Equal(t, 2, b.Images[0].Page)
	assert.Equal(t, "Report", b.Labels[0].Content)
	assert.Equal(t, `{"text":"nested"}`, strings.ReplaceAll(b.Labels[1].Content, " ", ""))
	assert.Equal(t, store.BoundingBox{}, b.Labels[1].Box)
}

func TestParse_MissingKindsAreEmpty(t *testing.T) {
	b, err := Parse(`{"labels": [{"labelName": "x", "content": "y"}]}`, 0)

	require.NoError(t, err)
	assert.Empty(t, b.Tables)
	assert.Empty(t, b.Images)
	assert.Len(t, b.ByKind(store.KindLabel), 1)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse("I could not read the page.", 0)

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExtractionFailed, errors.GetCode(err))
}

func TestParseBox_RejectsNonNumeric(t *testing.T) {
	assert.Equal(t, store.BoundingBox{}, parseBox([]byte(`[1, 2, "x", 4]`)))
	assert.Equal(t, store.BoundingBox{}, parseBox([]byte(`[1, 2, null, 4]`)))
	assert.Equal(t, store.BoundingBox{}, parseBox(nil))
}

func TestInstructions(t *testing.T) {
	got := Instructions(0)

	assert.True(t, strings.HasSuffix(got, "\nThis is page 1."))
	assert.Contains(t, got, `"tableName"`)
	assert.Contains(t, got, `"imageName"`)
	assert.Contains(t, got, `"labelName"`)
}
