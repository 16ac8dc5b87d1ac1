package http

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"gwpotential/db"
)

func TestValidateLocation(t *testing.T) {
	tests := []struct {
		name  string
		loc   db.Location
		field string
	}{
		{"empty", db.Location{}, ""},
		{"full", db.Location{Country: Country, Province: "Midlands Province", District: "Kwekwe", Latitude: "-18.9", Longitude: "29.8"}, ""},
		{"province only", db.Location{Province: "Masvingo Province"}, ""},
		{"other country", db.Location{Country: "Zambia"}, "country"},
		{"unknown province", db.Location{Province: "Harare Province"}, "province"},
		{"district without province", db.Location{District: "Gweru"}, "district"},
		{"district in other province", db.Location{Province: "Masvingo Province", District: "Gweru"}, "district"},
		{"latitude out of range", db.Location{Latitude: "-91"}, "latitude"},
		{"longitude not a number", db.Location{Longitude: "east"}, "longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocation(tt.loc)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var locErr *LocationError
			if assert.True(t, errors.As(err, &locErr)) {
				assert.Equal(t, tt.field, locErr.Field)
			}
		})
	}
}

func TestParseCoordinates(t *testing.T) {
	lat, lon, err := ParseCoordinates(" -19.45 , 29.81 ")
	assert.NoError(t, err)
	assert.Equal(t, "-19.45", lat)
	assert.Equal(t, "29.81", lon)

	lat, lon, err = ParseCoordinates("")
	assert.NoError(t, err)
	assert.Empty(t, lat)
	assert.Empty(t, lon)

	_, _, err = ParseCoordinates("1,2,3")
	assert.Error(t, err)
}

func TestProvincesReturnsCopy(t *testing.T) {
	p := Provinces()
	p[0].Districts[0] = "Changed"
	assert.Equal(t, "Gweru", Provinces()[0].Districts[0])
}
