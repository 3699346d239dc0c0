package query

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func floorString() string {
	return strconv.FormatInt(SearchFloor(fixedNow, DefaultRetention), 10)
}

func TestTextQuery_GeneratesTuplesLongestFirst(t *testing.T) {
	got := TextQuery("a b c")
	assert.Equal(t, `"a b c" "a b" "b c" "a" "b" "c"`, got)
}

func TestTuples_Counts(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one two", 3},
		{"one two three four", 10},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Len(t, Tuples(tt.text), tt.want)
		})
	}
}

func TestTextQuery_PhrasePassthrough(t *testing.T) {
	assert.Equal(t, `"it works" now`, TextQuery(`  "It Works" NOW `))
}

func TestHashTags(t *testing.T) {
	assert.Equal(t, []string{"#win", "$aapl"}, HashTags("hello #win $AAPL test"))
	assert.Empty(t, HashTags("no tags here a#b"))
	assert.Equal(t, []string{"#", "$"}, HashTags("lone # and $ marks"))
	assert.Equal(t, []string{"#a.b-c!"}, HashTags("#a.b-c!"))
}

func TestSplitPhrases(t *testing.T) {
	assert.Equal(t, []string{"it works", "now", "open"}, SplitPhrases(`"it works" now "open`))
	assert.Empty(t, SplitPhrases(`""`))
}

func TestCompile_Renderings(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "text only",
			req:  Request{Text: "It Works"},
			want: `(text:("it works" "it" "works"))`,
		},
		{
			name: "text and hashtag",
			req:  Request{Text: "hello #win"},
			want: `((text:("hello")) OR (tags:("#win")))`,
		},
		{
			name: "hashtag only",
			req:  Request{Text: "#win"},
			want: `(tags:("#win"))`,
		},
		{
			name: "lone hash mark",
			req:  Request{Text: "deal #"},
			want: `((text:("deal")) OR (tags:("#")))`,
		},
		{
			name: "phrase with hashtag and attachment",
			req:  Request{Text: `#123 "testing"`, FileType: "attachment"},
			want: `((text:("testing")) OR (tags:("#123"))) AND hasfiles:true`,
		},
		{
			name: "file type with text",
			req:  Request{Text: "report", FileType: "PDF"},
			want: `((text:("report")) OR (filename:("report"))) AND filetype:(pdf)`,
		},
		{
			name: "file type only",
			req:  Request{FileType: "pdf"},
			want: `filetype:(pdf)`,
		},
		{
			name: "sender and thread filters",
			req:  Request{Text: "ok", SenderIDs: []string{"a", "b"}, ThreadIDs: []string{"t1"}},
			want: `(text:("ok")) AND (senderId:("a" "b")) AND (threadId:("t1"))`,
		},
		{
			name: "filters standalone",
			req:  Request{SenderIDs: []string{"s1", " "}},
			want: `(senderId:("s1"))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compile(tt.req, fixedNow, DefaultRetention)
			require.NotNil(t, c.Expr)
			assert.Equal(t, tt.want, c.Query())
		})
	}
}

func TestCompile_EmptyIsMatchAll(t *testing.T) {
	c := Compile(Request{Text: "   "}, fixedNow, DefaultRetention)

	assert.True(t, c.MatchAll())
	assert.Equal(t, "", c.Query())
}

func TestCompile_Deterministic(t *testing.T) {
	req := Request{Text: "a b #c", SenderIDs: []string{"x"}, FileType: "pdf", Limit: "10"}

	first := Compile(req, fixedNow, DefaultRetention)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compile(req, fixedNow, DefaultRetention))
	}
}

func TestCompile_DateClamping(t *testing.T) {
	floor := SearchFloor(fixedNow, DefaultRetention)
	inside := strconv.FormatInt(floor+1000, 10)
	before := strconv.FormatInt(floor-1, 10)

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart string
		wantEnd   string
	}{
		{"missing", "", "", floorString(), MaximumDate},
		{"not a number", "soon", "later", floorString(), MaximumDate},
		{"too old", before, "", floorString(), MaximumDate},
		{"inside window", inside, "1700000000001", inside, "1700000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compile(Request{Text: "x", StartDate: tt.start, EndDate: tt.end}, fixedNow, DefaultRetention)
			assert.Equal(t, tt.wantStart, c.StartDate)
			assert.Equal(t, tt.wantEnd, c.EndDate)
		})
	}
}

func TestCompile_PaginationDefaults(t *testing.T) {
	tests := []struct {
		name                        string
		limit, offset, sort         string
		wantLimit, wantOff, wantSrt int
	}{
		{"missing", "", "", "", 25, 0, SortByScore},
		{"fractions", "0.2", "0.1", "1.5", 25, 0, SortByScore},
		{"garbage", "ten", "x", "asc", 25, 0, SortByScore},
		{"zero limit", "0", "0", "0", 25, 0, SortByScore},
		{"negative limit", "-3", "0", "0", 25, 0, SortByScore},
		{"explicit", "2", "4", "1", 2, 4, SortByDate},
		{"out of range sort", "5", "-1", "7", 5, 0, SortByScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compile(Request{Text: "x", Limit: tt.limit, Offset: tt.offset, SortOrder: tt.sort}, fixedNow, DefaultRetention)
			assert.Equal(t, tt.wantLimit, c.Limit)
			assert.Equal(t, tt.wantOff, c.Offset)
			assert.Equal(t, tt.wantSrt, c.SortOrder)
		})
	}
}
