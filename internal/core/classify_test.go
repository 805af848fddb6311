package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyOne(t *testing.T) {
	tests := []struct {
		name      string
		expected  *int
		counted   int
		wantClass Class
		wantDiff  int
	}{
		{name: "missing", expected: intPtr(10), counted: 7, wantClass: ClassMissing, wantDiff: -3},
		{name: "surplus", expected: intPtr(2), counted: 5, wantClass: ClassSurplus, wantDiff: 3},
		{name: "exact", expected: intPtr(4), counted: 4, wantClass: ClassExact, wantDiff: 0},
		{name: "unset expected is zero", expected: nil, counted: 0, wantClass: ClassExact, wantDiff: 0},
		{name: "negative total", expected: intPtr(0), counted: -2, wantClass: ClassMissing, wantDiff: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := ClassifyOne(Product{ID: "p", ExpectedStock: tt.expected}, tt.counted)
			assert.Equal(t, tt.wantClass, pc.Class)
			assert.Equal(t, tt.wantDiff, pc.Diff)
			assert.Equal(t, abs(tt.wantDiff), pc.Magnitude())
		})
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestSummarize(t *testing.T) {
	products := []Product{
		product("p1", "A", "Alpha", 10),
		product("p2", "B", "Beta", 5),
		product("p3", "C", "Gamma", 0),
	}
	events := []CountRecord{
		count("c1", "p1", 8, 1),
		count("c2", "p2", 5, 2),
		count("c3", "p3", 1, 3),
		count("c4", "gone", 100, 4),
	}

	s := Summarize(products, events)
	assert.Equal(t, Summary{
		TotalProducts:     3,
		TotalExpected:     15,
		TotalCounted:      14,
		CompletionPercent: 93,
		Missing:           1,
		Surplus:           1,
		Exact:             1,
		Discrepancies:     2,
	}, s)
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		counted, expected, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 8, 13},  // 12.5 rounds up
		{1, 3, 33},
		{2, 3, 67},
		{15, 10, 150},
		{-5, 10, -50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, completion(tt.counted, tt.expected), "%d/%d", tt.counted, tt.expected)
	}
}

func TestView_Filter(t *testing.T) {
	mk := func(id, store, loc string, expected, counted int) ProductCount {
		p := product(id, id, id, expected)
		p.Store, p.Location = store, loc
		return ClassifyOne(p, counted)
	}
	items := []ProductCount{
		mk("a", "North", "Aisle 1", 1, 1),
		mk("b", "North", "Aisle 2", 1, 0),
		mk("c", "South", "Aisle 1", 1, 2),
		mk("d", "", "", 0, 0),
	}

	tests := []struct {
		name string
		view View
		want []string
	}{
		{name: "all", view: View{Mode: ViewAll}, want: []string{"a", "b", "c", "d"}},
		{name: "empty mode is all", view: View{}, want: []string{"a", "b", "c", "d"}},
		{name: "discrepancies", view: View{Mode: ViewDiscrepancies}, want: []string{"b", "c"}},
		{name: "store", view: View{Store: "North"}, want: []string{"a", "b"}},
		{name: "store and location", view: View{Store: "North", Location: "Aisle 1"}, want: []string{"a"}},
		{name: "all criteria", view: View{Mode: ViewDiscrepancies, Location: "Aisle 1"}, want: []string{"c"}},
		{name: "no match", view: View{Store: "East"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, pc := range tt.view.Filter(items) {
				got = append(got, pc.Product.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreAndLocationOptions(t *testing.T) {
	products := []Product{
		{ID: "1", Store: "South", Location: "B"},
		{ID: "2", Store: "North", Location: "A"},
		{ID: "3", Store: "North", Location: "C"},
		{ID: "4", Store: "", Location: "Z"},
		{ID: "5", Store: "South", Location: ""},
	}

	assert.Equal(t, []string{"North", "South"}, StoreOptions(products))
	assert.Equal(t, []string{"A", "B", "C", "Z"}, LocationOptions(products, ""))
	assert.Equal(t, []string{"A", "C"}, LocationOptions(products, "North"))
	assert.Equal(t, []string{}, LocationOptions(products, "East"))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	tests := []struct {
		name     string
		page     int
		perPage  int
		want     []int
		wantPage Page
	}{
		{name: "first", page: 1, perPage: 3, want: []int{1, 2, 3}, wantPage: Page{Number: 1, PerPage: 3, Total: 7, TotalPages: 3}},
		{name: "last partial", page: 3, perPage: 3, want: []int{7}, wantPage: Page{Number: 3, PerPage: 3, Total: 7, TotalPages: 3}},
		{name: "clamped high", page: 9, perPage: 3, want: []int{7}, wantPage: Page{Number: 3, PerPage: 3, Total: 7, TotalPages: 3}},
		{name: "clamped low", page: 0, perPage: 5, want: []int{1, 2, 3, 4, 5}, wantPage: Page{Number: 1, PerPage: 5, Total: 7, TotalPages: 2}},
		{name: "all", page: 1, perPage: 0, want: items, wantPage: Page{Number: 1, PerPage: 7, Total: 7, TotalPages: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, page := Paginate(items, tt.page, tt.perPage)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPage, page)
		})
	}

	t.Run("empty", func(t *testing.T) {
		got, page := Paginate([]int{}, 2, 10)
		require.Empty(t, got)
		assert.Equal(t, Page{Number: 1, PerPage: 10, Total: 0, TotalPages: 1}, page)
	})
}
