package broadcast

import "testing"

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		step float64
		want float64
	}{
		{"cent step keeps value", 45000.37, 0.01, 45000.37},
		{"integer step drops cents", 45000.37, 1, 45000},
		{"four decimal step", 0.12346, 0.0001, 0.1235},
		{"no residue at 0.0001", 45000.3699, 0.0001, 45000.3699},
		{"zero step is identity", 123.456, 0, 123.456},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToStep(tt.v, tt.step); got != tt.want {
				t.Errorf("RoundToStep(%v, %v) = %v, want %v", tt.v, tt.step, got, tt.want)
			}
		})
	}
}

func TestFloorToStep(t *testing.T) {
	// 500/45000 = 0.01111... must floor cleanly to 0.011.
	if got := FloorToStep(500.0/45000.0, 0.001); got != 0.011 {
		t.Errorf("FloorToStep(500/45000, 0.001) = %v, want 0.011", got)
	}
	// A ratio that is an exact multiple must not lose a step to
	// representation error.
	if got := FloorToStep(0.03, 0.01); got != 0.03 {
		t.Errorf("FloorToStep(0.03, 0.01) = %v, want 0.03", got)
	}
}

func TestCeilToStep(t *testing.T) {
	if got := CeilToStep(8.0/45000.0, 0.001); got != 0.001 {
		t.Errorf("CeilToStep(8/45000, 0.001) = %v, want 0.001", got)
	}
	if got := CeilToStep(0.0105, 0.001); got != 0.011 {
		t.Errorf("CeilToStep(0.0105, 0.001) = %v, want 0.011", got)
	}
}
