package tensor

import (
	"reflect"
	"testing"
)

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}

func TestCalculateNumElements(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{}, 0},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{2, 3, 4}, 24},
	}

	for _, test := range tests {
		result := calculateNumElements(test.shape)
		if result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestNewTensorValidation(t *testing.T) {
	if _, err := NewTensor([]int{2, 3}, make([]float32, 5)); err == nil {
		t.Error("expected error for data length mismatch")
	}
	if _, err := NewTensor([]int{2, 0}, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
	ten, err := NewTensor([]int{2, 3}, make([]float32, 6))
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if ten.NumElems != 6 {
		t.Errorf("NumElems = %d, expected 6", ten.NumElems)
	}
}

func TestTimeSliceSharesBacking(t *testing.T) {
	ten, err := Zeros([]int{4, 2, 1})
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	for i := range ten.Data {
		ten.Data[i] = float32(i)
	}

	view, err := ten.TimeSlice(1, 3)
	if err != nil {
		t.Fatalf("TimeSlice failed: %v", err)
	}
	if !reflect.DeepEqual(view.Shape, []int{2, 2, 1}) {
		t.Errorf("view shape = %v, expected [2 2 1]", view.Shape)
	}
	if view.Data[0] != 2 {
		t.Errorf("view.Data[0] = %g, expected 2", view.Data[0])
	}

	view.Data[0] = 99
	if ten.Data[2] != 99 {
		t.Error("write to view not visible in parent tensor")
	}

	if _, err := ten.TimeSlice(3, 3); err == nil {
		t.Error("expected error for empty slice range")
	}
	if _, err := ten.TimeSlice(0, 5); err == nil {
		t.Error("expected error for out-of-range slice")
	}
}

func TestGatherSegments(t *testing.T) {
	// [time=2, segment=3, channel=1] with value = 10*time + segment
	ten, err := Zeros([]int{2, 3, 1})
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	for ti := 0; ti < 2; ti++ {
		for s := 0; s < 3; s++ {
			ten.Data[ti*3+s] = float32(10*ti + s)
		}
	}

	picked, err := ten.GatherSegments([]int{2, 0})
	if err != nil {
		t.Fatalf("GatherSegments failed: %v", err)
	}
	if !reflect.DeepEqual(picked.Shape, []int{2, 2, 1}) {
		t.Fatalf("shape = %v, expected [2 2 1]", picked.Shape)
	}
	expected := []float32{2, 0, 12, 10}
	if !reflect.DeepEqual(picked.Data, expected) {
		t.Errorf("data = %v, expected %v", picked.Data, expected)
	}

	if _, err := ten.GatherSegments([]int{3}); err == nil {
		t.Error("expected error for out-of-range segment index")
	}
	if _, err := ten.GatherSegments(nil); err == nil {
		t.Error("expected error for empty index list")
	}
}

func TestCloneAndEqual(t *testing.T) {
	ten, _ := NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	clone := ten.Clone()
	if !ten.Equal(clone) {
		t.Error("clone should equal source")
	}
	clone.Data[0] = 5
	if ten.Equal(clone) {
		t.Error("mutated clone should not equal source")
	}
	if ten.Data[0] != 1 {
		t.Error("mutating clone changed source")
	}
}
