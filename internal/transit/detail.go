package transit

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/campus-transit/transitbook/internal/models"
)

// RouteDetail is the combined view of one route
type RouteDetail struct {
	RouteID     string            `json:"routeId"`
	Route       *models.RouteInfo `json:"route,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	ActiveBuses []models.Bus      `json:"activeBuses"`
	TripUpdates []TripUpdate      `json:"tripUpdates"`
	Alerts      []Alert           `json:"alerts"`
}

// TripUpdate is a live prediction for one trip on the route
type TripUpdate struct {
	TripID               string       `json:"tripId"`
	StartTime            string       `json:"startTime,omitempty"`
	StartDate            string       `json:"startDate,omitempty"`
	ScheduleRelationship string       `json:"scheduleRelationship"`
	VehicleLabel         string       `json:"vehicleLabel,omitempty"`
	StopUpdates          []StopUpdate `json:"stopUpdates"`
}

// StopUpdate is the predicted arrival/departure at one stop
type StopUpdate struct {
	StopID               string     `json:"stopId"`
	StopSequence         uint32     `json:"stopSequence,omitempty"`
	ArrivalTime          *time.Time `json:"arrivalTime,omitempty"`
	DepartureTime        *time.Time `json:"departureTime,omitempty"`
	DelaySeconds         *int32     `json:"delaySeconds,omitempty"`
	ScheduleRelationship string     `json:"scheduleRelationship"`
}

// Alert is a service alert affecting the route
type Alert struct {
	ID          string     `json:"id"`
	Header      string     `json:"header"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Cause       string     `json:"cause"`
	Effect      string     `json:"effect"`
	ActiveFrom  *time.Time `json:"activeFrom,omitempty"`
	ActiveUntil *time.Time `json:"activeUntil,omitempty"`
}

func tripUpdatesForRoute(entities []*gtfs.FeedEntity, routeID string) []TripUpdate {
	updates := []TripUpdate{}
	for _, e := range entities {
		tu := e.GetTripUpdate()
		if e.GetIsDeleted() || tu == nil || tu.GetTrip().GetRouteId() != routeID {
			continue
		}

		update := TripUpdate{
			TripID:               tu.GetTrip().GetTripId(),
			StartTime:            tu.GetTrip().GetStartTime(),
			StartDate:            tu.GetTrip().GetStartDate(),
			ScheduleRelationship: tu.GetTrip().GetScheduleRelationship().String(),
			VehicleLabel:         tu.GetVehicle().GetLabel(),
			StopUpdates:          make([]StopUpdate, 0, len(tu.GetStopTimeUpdate())),
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			su := StopUpdate{
				StopID:               stu.GetStopId(),
				StopSequence:         stu.GetStopSequence(),
				ArrivalTime:          unixTime(stu.GetArrival().GetTime()),
				DepartureTime:        unixTime(stu.GetDeparture().GetTime()),
				ScheduleRelationship: stu.GetScheduleRelationship().String(),
			}
			if stu.GetArrival() != nil && stu.GetArrival().Delay != nil {
				d := stu.GetArrival().GetDelay()
				su.DelaySeconds = &d
			}
			update.StopUpdates = append(update.StopUpdates, su)
		}
		updates = append(updates, update)
	}
	return updates
}

func alertsForRoute(entities []*gtfs.FeedEntity, routeID string) []Alert {
	alerts := []Alert{}
	for _, e := range entities {
		a := e.GetAlert()
		if e.GetIsDeleted() || a == nil || !informsRoute(a, routeID) {
			continue
		}

		alert := Alert{
			ID:          e.GetId(),
			Header:      translate(a.GetHeaderText()),
			Description: translate(a.GetDescriptionText()),
			URL:         translate(a.GetUrl()),
			Cause:       a.GetCause().String(),
			Effect:      a.GetEffect().String(),
		}
		if periods := a.GetActivePeriod(); len(periods) > 0 {
			alert.ActiveFrom = unixTime(int64(periods[0].GetStart()))
			alert.ActiveUntil = unixTime(int64(periods[0].GetEnd()))
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

func informsRoute(a *gtfs.Alert, routeID string) bool {
	for _, sel := range a.GetInformedEntity() {
		if sel.GetRouteId() == routeID || sel.GetTrip().GetRouteId() == routeID {
			return true
		}
	}
	return false
}

// translate prefers English, then an untagged translation, then the first
func translate(ts *gtfs.TranslatedString) string {
	translations := ts.GetTranslation()
	if len(translations) == 0 {
		return ""
	}
	for _, t := range translations {
		if t.GetLanguage() == "en" {
			return t.GetText()
		}
	}
	for _, t := range translations {
		if t.GetLanguage() == "" {
			return t.GetText()
		}
	}
	return translations[0].GetText()
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
