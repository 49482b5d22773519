package services

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/AriukCS1A/testreg/model"
)

func TestContentCacheKeysCoverBoundLocations(t *testing.T) {
	tests := []struct {
		name        string
		locationIDs json.RawMessage
		want        []string
	}{
		{
			name:        "global content",
			locationIDs: json.RawMessage("[]"),
			want:        []string{"content:intro"},
		},
		{
			name:        "single location",
			locationIDs: json.RawMessage(`["plaza-1"]`),
			want:        []string{"content:intro", "content:location:plaza-1"},
		},
		{
			name:        "multiple locations",
			locationIDs: json.RawMessage(`["plaza-1","museum-2"]`),
			want:        []string{"content:intro", "content:location:plaza-1", "content:location:museum-2"},
		},
		{
			name:        "malformed list still covers intro",
			locationIDs: json.RawMessage(`{"not":"a list"}`),
			want:        []string{"content:intro"},
		},
	}

	for _, tc := range tests {
		got := contentCacheKeys(&model.Content{ID: "c1", LocationIDs: tc.locationIDs})
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
