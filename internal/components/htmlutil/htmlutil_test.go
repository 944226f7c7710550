package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	table := []struct {
		in       string
		expected string
	}{
		{in: "  EV25DEZ05 \n", expected: "EV25DEZ05"},
		{in: "EV25DEZ05\u200b", expected: "EV25DEZ05"},
		{in: " Faça\t\tlogin ", expected: "Faça login"},
		{in: "", expected: ""},
	}
	for _, row := range table {
		require.Equal(t, row.expected, CleanText(row.in), row.in)
	}
}

func TestSelectionText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<span class="notice-inside"> EV25<b>DEZ</b>07 </span><span class="notice-inside">x</span>`,
	))
	require.NoError(t, err)

	require.Equal(t, "EV25DEZ07", SelectionText(doc.Find(".notice-inside").First()))
	require.Equal(t, "EV25DEZ07 x", SelectionText(doc.Find(".notice-inside")))
	require.Equal(t, "", SelectionText(doc.Find(".missing")))
}
