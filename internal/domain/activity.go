package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AnonymousUserID is recorded as the author when a create request does not name one.
const AnonymousUserID = "anonymous"

// Activity is a shareable point of interest pinned to a map location.
type Activity struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Latitude    Coordinate `json:"latitude"`
	Longitude   Coordinate `json:"longitude"`
	UserID      string     `json:"userId"`
	ImageURL    *string    `json:"imageUrl"`
	Timestamp   time.Time  `json:"timestamp"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TimestampLayout renders instants as UTC with exactly three fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON writes the timestamp fields in TimestampLayout.
func (a Activity) MarshalJSON() ([]byte, error) {
	type fields Activity
	return json.Marshal(struct {
		fields
		Timestamp string `json:"timestamp"`
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	}{
		fields:    fields(a),
		Timestamp: a.Timestamp.UTC().Format(TimestampLayout),
		CreatedAt: a.CreatedAt.UTC().Format(TimestampLayout),
		UpdatedAt: a.UpdatedAt.UTC().Format(TimestampLayout),
	})
}

// Coordinate is a latitude or longitude in decimal degrees.
//
// Stored documents written by older clients may carry coordinates as numeric
// strings, so decoding accepts both forms. A JSON null leaves the value untouched.
type Coordinate float64

// UnmarshalJSON accepts a JSON number or a numeric string.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	value, present, err := ParseCoordinate(data)
	if err != nil {
		return err
	}
	if present {
		*c = Coordinate(value)
	}
	return nil
}

// ParseCoordinate coerces raw JSON input into a float. present is false when the
// value is absent or null. Non-numeric strings, NaN and infinities are rejected.
func ParseCoordinate(raw json.RawMessage) (value float64, present bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false, nil
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, true, fmt.Errorf("invalid coordinate %s", trimmed)
		}
		text = strings.TrimSpace(text)
	}

	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, true, fmt.Errorf("coordinate %q is not a number", text)
	}
	return parsed, true, nil
}

// CreateActivityInput captures a create request before coercion and defaulting.
type CreateActivityInput struct {
	Title       string
	Description string
	Latitude    json.RawMessage
	Longitude   json.RawMessage
	UserID      string
	ImageURL    *string
}

// validate checks required fields and returns the coerced coordinates.
func (in CreateActivityInput) validate() (lat, lon float64, err error) {
	latitude, hasLat, latErr := ParseCoordinate(in.Latitude)
	longitude, hasLon, lonErr := ParseCoordinate(in.Longitude)

	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Description) == "" {
		missing = append(missing, "description")
	}
	if !hasLat {
		missing = append(missing, "latitude")
	}
	if !hasLon {
		missing = append(missing, "longitude")
	}
	if len(missing) > 0 {
		return 0, 0, &ValidationError{Fields: missing, Message: MissingFieldsMessage}
	}

	switch {
	case latErr != nil:
		return 0, 0, &ValidationError{Fields: []string{"latitude"}, Message: latErr.Error()}
	case lonErr != nil:
		return 0, 0, &ValidationError{Fields: []string{"longitude"}, Message: lonErr.Error()}
	}
	return latitude, longitude, nil
}

// NullableString distinguishes an absent field from an explicit null.
type NullableString struct {
	Set   bool
	Value *string
}

// ActivityPatch lists the fields an update may change. Nil pointers leave the
// stored value untouched.
type ActivityPatch struct {
	Title       *string
	Description *string
	Latitude    *float64
	Longitude   *float64
	UserID      *string
	ImageURL    NullableString
}

// NewActivityPatch builds a patch from a decoded JSON object. Keys outside the
// mutable set, including id and the timestamps, are ignored.
func NewActivityPatch(body map[string]json.RawMessage) (ActivityPatch, error) {
	var patch ActivityPatch

	for _, field := range []struct {
		key string
		dst **string
	}{
		{"title", &patch.Title},
		{"description", &patch.Description},
	} {
		raw, ok := body[field.key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil || strings.TrimSpace(text) == "" {
			return ActivityPatch{}, &ValidationError{
				Fields:  []string{field.key},
				Message: field.key + " must be a non-empty string",
			}
		}
		*field.dst = &text
	}

	for _, field := range []struct {
		key string
		dst **float64
	}{
		{"latitude", &patch.Latitude},
		{"longitude", &patch.Longitude},
	} {
		raw, ok := body[field.key]
		if !ok {
			continue
		}
		value, present, err := ParseCoordinate(raw)
		if err != nil {
			return ActivityPatch{}, &ValidationError{Fields: []string{field.key}, Message: err.Error()}
		}
		if !present {
			return ActivityPatch{}, &ValidationError{Fields: []string{field.key}, Message: field.key + " cannot be null"}
		}
		*field.dst = &value
	}

	if raw, ok := body["userId"]; ok {
		var userID *string
		if err := json.Unmarshal(raw, &userID); err != nil {
			return ActivityPatch{}, &ValidationError{Fields: []string{"userId"}, Message: "userId must be a string"}
		}
		resolved := AnonymousUserID
		if userID != nil && *userID != "" {
			resolved = *userID
		}
		patch.UserID = &resolved
	}

	if raw, ok := body["imageUrl"]; ok {
		var imageURL *string
		if err := json.Unmarshal(raw, &imageURL); err != nil {
			return ActivityPatch{}, &ValidationError{Fields: []string{"imageUrl"}, Message: "imageUrl must be a string or null"}
		}
		patch.ImageURL = NullableString{Set: true, Value: normalizeImageURL(imageURL)}
	}

	return patch, nil
}

func (p ActivityPatch) apply(a *Activity) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Latitude != nil {
		a.Latitude = Coordinate(*p.Latitude)
	}
	if p.Longitude != nil {
		a.Longitude = Coordinate(*p.Longitude)
	}
	if p.UserID != nil {
		a.UserID = *p.UserID
	}
	if p.ImageURL.Set {
		a.ImageURL = p.ImageURL.Value
	}
}

func normalizeImageURL(imageURL *string) *string {
	if imageURL == nil || *imageURL == "" {
		return nil
	}
	value := *imageURL
	return &value
}
