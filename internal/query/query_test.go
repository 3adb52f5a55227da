package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse
// =============================================================================

func TestParse_PhraseAndTerm(t *testing.T) {
	// Given: a query with one quoted phrase and one word
	q := Parse(`"overtime rate" wages`)

	// Then: the phrase is extracted and the word becomes a term
	assert.Equal(t, []string{"overtime rate"}, q.Phrases)
	assert.Equal(t, []string{"wages"}, q.Terms)
	assert.Equal(t, ModeAnd, q.Mode)
}

func TestParse_PhraseKeepsStopwords(t *testing.T) {
	q := Parse(`"Hours of Work" for the employees`)

	assert.Equal(t, []string{"hours of work"}, q.Phrases)
	assert.Equal(t, []string{"employees"}, q.Terms)
}

func TestParse_Normalization(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		phrases []string
		terms   []string
	}{
		{"case folded", "Vacation PAY", nil, []string{"vacation", "pay"}},
		{"stopwords removed", "what is the sick leave policy", nil, []string{"sick", "leave", "policy"}},
		{"single characters dropped", "schedule a b c", nil, []string{"schedule"}},
		{"duplicates removed", "wages wages Wages", nil, []string{"wages"}},
		{"punctuation splits", "on-call, standby!", nil, []string{"call", "standby"}},
		{"numbers kept", "article 12", nil, []string{"article", "12"}},
		{"punctuation inside phrase", `"time-and-a-half!"`, []string{"time and a half"}, nil},
		{"unbalanced quote", `"overtime rate`, nil, []string{"overtime", "rate"}},
		{"empty phrase ignored", `"" seniority`, nil, []string{"seniority"}},
		{"multiple phrases in order", `"sick leave" "lieu time"`, []string{"sick leave", "lieu time"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Parse(tt.raw)
			assert.Equal(t, tt.phrases, q.Phrases)
			assert.Equal(t, tt.terms, q.Terms)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "the and of", `""`, "a b"} {
		q := Parse(raw)
		assert.True(t, q.IsEmpty(), "query %q", raw)
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeOr, ParseMode("OR"))
	assert.Equal(t, ModeOr, ParseMode(" or "))
	assert.Equal(t, ModeAnd, ParseMode("and"))
	assert.Equal(t, ModeAnd, ParseMode(""))
	assert.Equal(t, ModeAnd, ParseMode("xor"))
}

func TestQuery_TextAndWords(t *testing.T) {
	q := Parse(`"overtime rate" wages overtime`)
	assert.Equal(t, "overtime rate wages overtime", q.Text())
	assert.Equal(t, []string{"overtime", "rate", "wages"}, q.Words())

	empty := Parse("  the  ")
	assert.Equal(t, "the", empty.Text())
}

func TestQuery_CopiesDoNotAlias(t *testing.T) {
	q := Parse("wages")
	q.Expansions = map[string][]string{"wages": {"pay"}}

	or := q.WithMode(ModeOr)
	plain := q.WithoutExpansions()

	assert.Equal(t, ModeAnd, q.Mode)
	assert.Equal(t, ModeOr, or.Mode)
	assert.Nil(t, plain.Expansions)
	assert.NotNil(t, q.Expansions)
}

// =============================================================================
// BuildLexicalQuery
// =============================================================================

func TestBuildLexicalQuery(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{
			name: "and mode",
			q:    Parse(`"overtime rate" wages`),
			want: `"overtime rate" AND wages*`,
		},
		{
			name: "or mode",
			q:    Parse(`"overtime rate" wages`).WithMode(ModeOr),
			want: `"overtime rate" OR wages*`,
		},
		{
			name: "terms only",
			q:    Parse("sick leave"),
			want: `sick* AND leave*`,
		},
		{
			name: "empty",
			q:    Parse("the"),
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildLexicalQuery(tt.q))
		})
	}
}

func TestBuildLexicalQuery_Expansions(t *testing.T) {
	// Given: a term with single and multi word synonyms
	q := Parse("wages overtime")
	q.Expansions = map[string][]string{
		"wages":    {"pay", "salary", "pay", "wages"},
		"overtime": {"time and a half", "on-call"},
	}

	// When
	got := BuildLexicalQuery(q)

	// Then: each term becomes an OR group, duplicates removed
	assert.Equal(t, `(wages* OR pay* OR salary*) AND (overtime* OR "time and a half" OR "on call")`, got)
}

func TestBuildLexicalQuery_DocumentFilterNotInExpression(t *testing.T) {
	q := Parse("seniority")
	q.DocumentID = 42
	assert.Equal(t, "seniority*", BuildLexicalQuery(q))
}

// =============================================================================
// Stemming and tokens
// =============================================================================

func TestStem(t *testing.T) {
	assert.Equal(t, Stem("wage"), Stem("wages"))
	assert.Equal(t, Stem("grievance"), Stem("grievances"))
	assert.Equal(t, "", Stem(""))
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Article 7.01: Overtime shall be paid at time-and-a-half.")
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"article", "7", "01", "overtime", "shall", "be", "paid", "at", "time", "and", "a", "half"}, got)
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("overtime", "over"))
	assert.True(t, TokenMatches("wage", "wages"))
	assert.False(t, TokenMatches("vacation", "sick"))
}
