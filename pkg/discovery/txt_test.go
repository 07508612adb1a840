package discovery

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestOperationalTXT_Encode(t *testing.T) {
	tests := []struct {
		name string
		txt  OperationalTXT
		want []string
	}{
		{
			name: "empty",
			txt:  OperationalTXT{},
			want: nil,
		},
		{
			name: "with intervals",
			txt: OperationalTXT{
				IdleInterval:   500 * time.Millisecond,
				ActiveInterval: 300 * time.Millisecond,
			},
			want: []string{"SII=500", "SAI=300"},
		},
		{
			name: "full",
			txt: OperationalTXT{
				IdleInterval:   500 * time.Millisecond,
				ActiveInterval: 300 * time.Millisecond,
				TCPSupported:   true,
				ICDMode:        ICDModeLIT,
				ICDSet:         true,
			},
			want: []string{"SII=500", "SAI=300", "T=1", "ICD=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.txt.Encode()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    map[string]string
	}{
		{
			name:    "empty",
			records: nil,
			want:    map[string]string{},
		},
		{
			name:    "multiple",
			records: []string{"SII=5000", "SAI=300", "T=1"},
			want: map[string]string{
				"SII": "5000",
				"SAI": "300",
				"T":   "1",
			},
		},
		{
			name:    "with empty value",
			records: []string{"T=", "SAI=300"},
			want: map[string]string{
				"T":   "",
				"SAI": "300",
			},
		},
		{
			name:    "malformed ignored",
			records: []string{"SII=500", "invalid", "=1"},
			want: map[string]string{
				"SII": "500",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTXT(tt.records)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTXT() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseOperationalTXT(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		original := OperationalTXT{
			IdleInterval:   500 * time.Millisecond,
			ActiveInterval: 300 * time.Millisecond,
			TCPSupported:   true,
			ICDMode:        ICDModeSIT,
			ICDSet:         true,
		}

		parsed, err := ParseOperationalTXT(original.Encode())
		if err != nil {
			t.Fatalf("ParseOperationalTXT() error = %v", err)
		}
		if !reflect.DeepEqual(*parsed, original) {
			t.Errorf("ParseOperationalTXT() = %+v, want %+v", *parsed, original)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, records := range [][]string{
			{"SII=abc"},
			{"SAI=-1"},
			{"ICD=2"},
			{"ICD=x"},
		} {
			if _, err := ParseOperationalTXT(records); !errors.Is(err, ErrInvalidTXTRecord) {
				t.Errorf("ParseOperationalTXT(%v) error = %v, want %v", records, err, ErrInvalidTXTRecord)
			}
		}
	})
}

func TestRetransmitInterval(t *testing.T) {
	var txt OperationalTXT
	if got := txt.RetransmitInterval(); got != DefaultActiveInterval {
		t.Errorf("RetransmitInterval() = %v, want %v", got, DefaultActiveInterval)
	}
	txt.ActiveInterval = 2 * time.Second
	if got := txt.RetransmitInterval(); got != 2*time.Second {
		t.Errorf("RetransmitInterval() = %v, want 2s", got)
	}
}
