package compute

import (
	"encoding/json"
	"testing"

	"wasmscan/internal/models"
)

func testPieces() []Piece {
	return []Piece{
		{Block: models.Block{Height: 10, TimeUnixMs: 10000}, Output: json.RawMessage(`1`), LatestBlockHeightValid: 19},
		{Block: models.Block{Height: 20, TimeUnixMs: 20000}, Output: json.RawMessage(`2`), LatestBlockHeightValid: 34},
		{Block: models.Block{Height: 35, TimeUnixMs: 35000}, Output: json.RawMessage(`3`), LatestBlockHeightValid: 50},
	}
}

func TestSamplesFromPieces(t *testing.T) {
	t.Parallel()
	samples := SamplesFromPieces(testPieces())
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}
	for i, s := range samples {
		if s.At != 0 {
			t.Errorf("sample %d At = %d, want 0 for raw output", i, s.At)
		}
	}
	if samples[1].Block.Height != 20 || string(samples[1].Value) != "2" {
		t.Errorf("sample 1 = %+v, want block 20 value 2", samples[1])
	}
}

func TestSampleAtBlockSteps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		start, end, step uint64
		wantAt           []uint64
		wantValues       []string
	}{
		{
			name:  "aligned grid",
			start: 10, end: 50, step: 10,
			wantAt:     []uint64{10, 20, 30, 40, 50},
			wantValues: []string{"1", "2", "2", "3", "3"},
		},
		{
			name:  "unaligned end still emitted",
			start: 10, end: 45, step: 20,
			wantAt:     []uint64{10, 30, 45},
			wantValues: []string{"1", "2", "3"},
		},
		{
			name:  "grid before first piece is skipped",
			start: 1, end: 15, step: 5,
			wantAt:     []uint64{11, 15},
			wantValues: []string{"1", "1"},
		},
		{
			name:  "start equals end",
			start: 25, end: 25, step: 10,
			wantAt:     []uint64{25},
			wantValues: []string{"2"},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			samples := SampleAtBlockSteps(testPieces(), tc.start, tc.end, tc.step)
			if len(samples) != len(tc.wantAt) {
				t.Fatalf("samples = %d, want %d (%+v)", len(samples), len(tc.wantAt), samples)
			}
			for i, s := range samples {
				if s.At != tc.wantAt[i] {
					t.Errorf("sample %d At = %d, want %d", i, s.At, tc.wantAt[i])
				}
				if string(s.Value) != tc.wantValues[i] {
					t.Errorf("sample %d value = %s, want %s", i, s.Value, tc.wantValues[i])
				}
			}
		})
	}
}

func TestSampleAtBlockSteps_Empty(t *testing.T) {
	t.Parallel()
	if got := SampleAtBlockSteps(nil, 10, 50, 10); len(got) != 0 {
		t.Errorf("samples over no pieces = %+v, want none", got)
	}
}

func TestSampleAtTimeSteps(t *testing.T) {
	t.Parallel()
	samples := SampleAtTimeSteps(testPieces(), 10000, 40000, 15000)
	wantAt := []uint64{10000, 25000, 40000}
	wantValues := []string{"1", "2", "3"}
	if len(samples) != len(wantAt) {
		t.Fatalf("samples = %d, want %d", len(samples), len(wantAt))
	}
	for i, s := range samples {
		if s.At != wantAt[i] || string(s.Value) != wantValues[i] {
			t.Errorf("sample %d = at %d value %s, want at %d value %s",
				i, s.At, s.Value, wantAt[i], wantValues[i])
		}
	}
}
