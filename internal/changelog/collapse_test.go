package changelog

import (
	"reflect"
	"testing"
)

func TestCollapse_KeepsLatestPerRecord(t *testing.T) {
	changes := []Change{
		{Index: 1, Collection: "notes", ExternalID: 5, Type: Update},
		{Index: 2, Collection: "notes", ExternalID: 5, Type: Update},
		{Index: 3, Collection: "notes", ExternalID: 5, Type: Delete},
	}

	got := Collapse(changes)
	want := []Change{{Index: 3, Collection: "notes", ExternalID: 5, Type: Delete}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestCollapse_OrdersByIndex(t *testing.T) {
	changes := []Change{
		{Index: 7, ExternalID: 2, Type: Insert},
		{Index: 2, ExternalID: 1, Type: Insert},
		{Index: 9, ExternalID: 1, Type: Update},
		{Index: 4, ExternalID: 3, Type: Insert},
	}

	got := Collapse(changes)
	wantIndexes := []int64{4, 7, 9}
	if len(got) != len(wantIndexes) {
		t.Fatalf("Expected %d changes, got %d", len(wantIndexes), len(got))
	}
	for i, idx := range wantIndexes {
		if got[i].Index != idx {
			t.Errorf("Position %d: expected index %d, got %d", i, idx, got[i].Index)
		}
	}
}

func TestCollapse_Empty(t *testing.T) {
	if got := Collapse(nil); len(got) != 0 {
		t.Errorf("Expected empty result, got %v", got)
	}
}
