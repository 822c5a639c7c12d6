package main

import (
	"testing"

	"screen-explain/screenshot"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    screenshot.Region
		wantErr bool
	}{
		{
			name:  "ValidRegion",
			input: "100,200,640x480",
			want:  screenshot.Region{X: 100, Y: 200, Width: 640, Height: 480},
		},
		{
			name:  "ValidWithSpaces",
			input: " 0 , 0 , 1920x1080",
			want:  screenshot.Region{X: 0, Y: 0, Width: 1920, Height: 1080},
		},
		{
			name:  "NegativeOrigin",
			input: "-1920,0,1920x1080",
			want:  screenshot.Region{X: -1920, Y: 0, Width: 1920, Height: 1080},
		},
		{
			name:    "MissingSize",
			input:   "100,200",
			wantErr: true,
		},
		{
			name:    "BadSizeSeparator",
			input:   "100,200,640*480",
			wantErr: true,
		},
		{
			name:    "ZeroWidth",
			input:   "0,0,0x480",
			wantErr: true,
		},
		{
			name:    "NegativeHeight",
			input:   "0,0,640x-480",
			wantErr: true,
		},
		{
			name:    "NotANumber",
			input:   "a,b,cxd",
			wantErr: true,
		},
		{
			name:    "Empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRegion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRegion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseRegion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidatePNG(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{
			name:    "ValidPNG",
			data:    []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00},
			wantErr: false,
		},
		{
			name:    "InvalidMagic",
			data:    []byte{0x00, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
			wantErr: true,
		},
		{
			name:    "TooShort",
			data:    []byte{0x89, 'P', 'N', 'G'},
			wantErr: true,
		},
		{
			name:    "Empty",
			data:    []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePNG(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePNG() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
