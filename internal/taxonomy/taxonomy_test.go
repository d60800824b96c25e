package taxonomy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/intent-cli/internal/fetcher"
	"github.com/sells-group/intent-cli/internal/model"
)

func TestResolveLevels(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   [3]int
	}{
		{"canonical", []string{"Level1", "Level2", "Level3"}, [3]int{0, 1, 2}},
		{"short", []string{"l3", "L1", "l2"}, [3]int{1, 2, 0}},
		{"mapped export", []string{"Intent", "Topic_Mapped", "Category_Mapped"}, [3]int{2, 1, 0}},
		{"fuzzy", []string{"Level 1 (Area)", "Level 2 (Topic)", "Level 3 (Intent)"}, [3]int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLevels(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveLevels([]string{"Level1", "Level2", "Notes"})
	require.ErrorIs(t, err, ErrLevelColumns)
	assert.Contains(t, err.Error(), "L3")
}

func TestFromRows_DropsBlankAndDuplicates(t *testing.T) {
	tax, err := FromRows([]string{"L1", "L2", "L3"}, [][]string{
		{"Billing", "Payments", "Late fee"},
		{"Billing", "Payments", "Late fee"},
		{" Billing ", "Payments", "Late fee "},
		{"Billing", "", "Refund"},
		{"Billing", "Payments", "nan"},
		{"Account", "Access", "Login issue"},
		{"Account"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, tax.Len())
	assert.Equal(t, "Billing - Payments - Late fee", tax.Nodes()[0].Path())

	_, ok := tax.Lookup("Account - Access - Login issue")
	assert.True(t, ok)
	_, ok = tax.Lookup("Account - Access - Other")
	assert.False(t, ok)
}

func TestFromRows_Empty(t *testing.T) {
	_, err := FromRows([]string{"L1", "L2", "L3"}, [][]string{{"", "", ""}, {"NaN", "x", "y"}})
	require.ErrorIs(t, err, ErrEmpty)
}

func sample(t *testing.T) *Taxonomy {
	t.Helper()
	tax, err := New([]model.CategoryNode{
		{Level1: "Billing", Level2: "Payments", Level3: "Late fee"},
		{Level1: "Account", Level2: "Access", Level3: "Login issue"},
		{Level1: "Billing", Level2: "Payments", Level3: "Refund"},
		{Level1: "Billing", Level2: "Invoices", Level3: "Missing invoice"},
	})
	require.NoError(t, err)
	return tax
}

func TestTree(t *testing.T) {
	tree := sample(t).Tree()
	require.Len(t, tree, 2)
	assert.Equal(t, "Billing", tree[0].Name)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, []string{"Late fee", "Refund"}, tree[0].Children[0].Leaves)
	assert.Equal(t, "Account", tree[1].Name)
}

func TestText_RoundTrip(t *testing.T) {
	tax := sample(t)
	text := tax.Text()
	assert.True(t, strings.HasPrefix(text, "- Billing\n    - Payments\n        - Late fee\n"))

	parsed, err := ParseText(strings.NewReader(text))
	require.NoError(t, err)
	assert.ElementsMatch(t, tax.Nodes(), parsed.Nodes())
	assert.Equal(t, text, parsed.Text())
}

func TestParseText_TabsAndBullets(t *testing.T) {
	parsed, err := ParseText(strings.NewReader("- Billing\r\n\t* Payments\n\t\t- Late fee\n\n- Empty L1\n"))
	require.NoError(t, err)
	require.Equal(t, 1, parsed.Len())
	assert.Equal(t, "Billing - Payments - Late fee", parsed.Nodes()[0].Path())

	_, err = ParseText(strings.NewReader("        - orphan\n"))
	require.Error(t, err)
}

func TestSorted(t *testing.T) {
	sorted := sample(t).Sorted()
	var paths []string
	for _, n := range sorted.Nodes() {
		paths = append(paths, n.Path())
	}
	assert.Equal(t, []string{
		"Account - Access - Login issue",
		"Billing - Invoices - Missing invoice",
		"Billing - Payments - Late fee",
		"Billing - Payments - Refund",
	}, paths)
	_, ok := sorted.Lookup("Billing - Payments - Refund")
	assert.True(t, ok)
}

func TestRenderer(t *testing.T) {
	r, err := NewRenderer(2)
	require.NoError(t, err)

	tax := sample(t)
	first := r.Render(tax)
	again := r.Render(sample(t))
	assert.Equal(t, tax.Text(), first)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, r.Cached())
	assert.NotEqual(t, tax.Fingerprint(), tax.Sorted().Fingerprint())
}

func TestLoad_Formats(t *testing.T) {
	dir := t.TempDir()
	opener := fetcher.NewOpener(fetcher.Options{})

	csvPath := filepath.Join(dir, "tax.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Level1,Level2,Level3\nBilling,Payments,Late fee\nBilling,Payments,Late fee\n"), 0o644))

	tsvPath := filepath.Join(dir, "tax.tsv")
	require.NoError(t, os.WriteFile(tsvPath, []byte("category_mapped\ttopic_mapped\tintent\nBilling\tPayments\tLate fee\n"), 0o644))

	txtPath := filepath.Join(dir, "tax.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("- Billing\n    - Payments\n        - Late fee\n"), 0o644))

	xlsxPath := filepath.Join(dir, "tax.xlsx")
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range [][]string{{"L1", "L2", "L3"}, {"Billing", "Payments", "Late fee"}} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	require.NoError(t, f.Save(xlsxPath))

	for _, src := range []string{csvPath, tsvPath, txtPath, xlsxPath} {
		t.Run(filepath.Ext(src), func(t *testing.T) {
			tax, err := Load(context.Background(), opener, src, dir)
			require.NoError(t, err)
			require.Equal(t, 1, tax.Len())
			assert.Equal(t, "Billing - Payments - Late fee", tax.Nodes()[0].Path())
		})
	}
}

func TestLoad_MissingLevelColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tax.csv")
	require.NoError(t, os.WriteFile(path, []byte("Level1,Level2,Notes\na,b,c\n"), 0o644))

	_, err := Load(context.Background(), fetcher.NewOpener(fetcher.Options{}), path, dir)
	require.ErrorIs(t, err, ErrLevelColumns)
}
