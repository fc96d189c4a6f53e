package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteInfo_Routable(t *testing.T) {
	tests := []struct {
		name  string
		route RouteInfo
		want  bool
	}{
		{"full names", RouteInfo{"R1", "12", "Downtown Loop"}, true},
		{"empty short", RouteInfo{"R1", "", "Downtown Loop"}, false},
		{"empty long", RouteInfo{"R1", "12", ""}, false},
		{"long restates short", RouteInfo{"R1", "12", "Route 12"}, false},
		{"long restates short lowercase", RouteInfo{"R1", "12", "route 12"}, false},
		{"long equals short", RouteInfo{"R1", "12", "12"}, false},
		{"unknown long", RouteInfo{"R1", "12", "Unknown Route"}, false},
		{"unknown short", RouteInfo{"R1", "UNKNOWN", "Downtown Loop"}, false},
		{"missing id", RouteInfo{"", "12", "Downtown Loop"}, false},
		{"whitespace only", RouteInfo{"R1", " ", "Downtown Loop"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.route.Routable())
		})
	}
}

func TestRouteInfo_DisplayName(t *testing.T) {
	r := RouteInfo{RouteID: "R1", ShortName: "12", LongName: "Downtown Loop"}
	assert.Equal(t, "12 - Downtown Loop", r.DisplayName())
	assert.True(t, ValidRouteLabel(r.DisplayName()))
}

func TestValidRouteLabel(t *testing.T) {
	assert.True(t, ValidRouteLabel("243 - Union Station / Yale"))
	assert.False(t, ValidRouteLabel("243"))
	assert.False(t, ValidRouteLabel("Unknown Route"))
	assert.False(t, ValidRouteLabel("12 - Route 12"))
	assert.False(t, ValidRouteLabel(" - Downtown"))
}

func TestBusValidate(t *testing.T) {
	b := Bus{BusNumber: "101", RouteID: "R1", Route: "12 - Downtown Loop", Latitude: 41.3, Longitude: -72.9}
	assert.NoError(t, b.Validate())

	b.Route = "Unknown Route"
	assert.Error(t, b.Validate())

	b.Route = "12 - Downtown Loop"
	b.Latitude = 91
	assert.Error(t, b.Validate())
}
