package utils

import (
	"reflect"
	"testing"
)

func TestChunkSlice(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		size int
		want [][]int
	}{
		{"empty", nil, 3, nil},
		{"exact", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{"size larger than slice", []int{1, 2}, 500, [][]int{{1, 2}}},
		{"non-positive size", []int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkSlice(tt.ids, tt.size); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ChunkSlice(%v, %d) = %v, want %v", tt.ids, tt.size, got, tt.want)
			}
		})
	}
}

func TestChunkSliceDoesNotLeakCapacity(t *testing.T) {
	ids := []int{1, 2, 3}
	parts := ChunkSlice(ids, 2)
	parts[0] = append(parts[0], 99)
	if ids[2] != 3 {
		t.Fatalf("append to first chunk overwrote source: %v", ids)
	}
}
