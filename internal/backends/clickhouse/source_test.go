package clickhouse

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mr-karan/promalert/internal/backends"
)

func TestToFloat(t *testing.T) {
	s := "12.5"
	tests := []struct {
		name    string
		in      any
		want    float64
		wantErr bool
		noData  bool
	}{
		{name: "float64", in: float64(1.5), want: 1.5},
		{name: "uint64", in: uint64(42), want: 42},
		{name: "int8", in: int8(-3), want: -3},
		{name: "numeric string", in: "7", want: 7},
		{name: "string pointer", in: &s, want: 12.5},
		{name: "bool", in: true, want: 1},
		{name: "nil", in: nil, wantErr: true, noData: true},
		{name: "nan", in: math.NaN(), wantErr: true, noData: true},
		{name: "text", in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toFloat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("toFloat(%v) expected error", tt.in)
				}
				if tt.noData != errors.Is(err, backends.ErrNoData) {
					t.Errorf("toFloat(%v) ErrNoData = %v, want %v", tt.in, !tt.noData, tt.noData)
				}
				return
			}
			if err != nil {
				t.Fatalf("toFloat(%v) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("toFloat(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToLabel(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := toLabel(ts); got != "2026-01-02T03:04:05Z" {
		t.Errorf("toLabel(time) = %q", got)
	}
	if got := toLabel(uint16(9)); got != "9" {
		t.Errorf("toLabel(uint16) = %q", got)
	}
	if got := toLabel(nil); got != "" {
		t.Errorf("toLabel(nil) = %q", got)
	}
}
