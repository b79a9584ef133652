package telemetry

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    types.FlightState
		wantErr bool
	}{
		{
			name: "valid record",
			raw:  "1000.5,120.0,270.0,37.5,-122.1",
			want: types.FlightState{Altitude: 1000.5, Speed: 120, Heading: 270, Latitude: 37.5, Longitude: -122.1},
		},
		{
			name: "surrounding whitespace and CRLF",
			raw:  "  35000,450,90,47.6062,-122.3321\r\n",
			want: types.FlightState{Altitude: 35000, Speed: 450, Heading: 90, Latitude: 47.6062, Longitude: -122.3321},
		},
		{
			name: "spaces around fields",
			raw:  "1, 2 ,3,4 , 5",
			want: types.FlightState{Altitude: 1, Speed: 2, Heading: 3, Latitude: 4, Longitude: 5},
		},
		{
			name: "heading outside 0-360 is not clamped",
			raw:  "0,0,725.5,0,0",
			want: types.FlightState{Heading: 725.5},
		},
		{
			name: "exponent notation",
			raw:  "1e3,1.2E2,2.7e2,3.75e1,-1.221e2",
			want: types.FlightState{Altitude: 1000, Speed: 120, Heading: 270, Latitude: 37.5, Longitude: -122.1},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: " \r\n\t", wantErr: true},
		{name: "four fields", raw: "1,2,3,4", wantErr: true},
		{name: "six fields", raw: "1,2,3,4,5,6", wantErr: true},
		{name: "trailing comma", raw: "1,2,3,4,5,", wantErr: true},
		{name: "non-numeric field", raw: "abc,1,2,3,4", wantErr: true},
		{name: "empty field", raw: "1,,3,4,5", wantErr: true},
		{name: "NaN", raw: "NaN,1,2,3,4", wantErr: true},
		{name: "infinity", raw: "1,2,3,4,+Inf", wantErr: true},
		{name: "two records", raw: "1,2,3,4,5\n6,7,8,9,10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecode)
				assert.Equal(t, types.FlightState{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		want := types.FlightState{
			Altitude:  rng.Float64()*60000 - 1000,
			Speed:     rng.Float64() * 600,
			Heading:   rng.Float64() * 360,
			Latitude:  rng.Float64()*180 - 90,
			Longitude: rng.Float64()*360 - 180,
		}
		raw := strings.Join([]string{
			strconv.FormatFloat(want.Altitude, 'g', -1, 64),
			strconv.FormatFloat(want.Speed, 'g', -1, 64),
			strconv.FormatFloat(want.Heading, 'g', -1, 64),
			strconv.FormatFloat(want.Latitude, 'g', -1, 64),
			strconv.FormatFloat(want.Longitude, 'g', -1, 64),
		}, ",")

		got, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
}

func TestDecodeErrorNamesField(t *testing.T) {
	_, err := Decode([]byte("1,2,north,4,5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heading")
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x00, 0xff, 0xfe},
		[]byte(",,,,"),
		[]byte(strings.Repeat("9", 4096) + ",1,2,3,4"),
		[]byte("\xff,\xfe,1,2,3"),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Decode(in) })
	}
}

func TestSelectRecord(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want string
	}{
		{name: "no newline", buf: "1,2,3,4,5", want: "1,2,3,4,5"},
		{name: "single terminated line", buf: "1,2,3,4,5\n", want: "1,2,3,4,5"},
		{name: "last complete line wins", buf: "1,2,3,4,5\n6,7,8,9,10\n", want: "6,7,8,9,10"},
		{name: "trailing fragment ignored", buf: "1,2,3,4,5\n6,7,8", want: "1,2,3,4,5"},
		{name: "blank lines skipped", buf: "1,2,3,4,5\r\n\r\n", want: "1,2,3,4,5"},
		{name: "only newlines", buf: "\n\n", want: "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(selectRecord([]byte(tt.buf))))
		})
	}
}
