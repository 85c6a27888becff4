package domain

import "errors"

var (
	// ErrMissingFile marks a dataset path that does not exist.
	ErrMissingFile = errors.New("dataset file not found")

	// ErrMissingCRS marks a layer without a usable coordinate reference.
	ErrMissingCRS = errors.New("coordinate reference system not declared")

	// ErrPredictionUnavailable is returned by predictors that cannot score.
	ErrPredictionUnavailable = errors.New("prediction model unavailable")

	// ErrInvalidRequest marks caller input outside the documented constraints.
	ErrInvalidRequest = errors.New("invalid risk request")

	// ErrGeodataUnavailable is returned in strict mode when the geodata pipeline
	// could not produce a complete result.
	ErrGeodataUnavailable = errors.New("geodata unavailable")

	// ErrLocationNotFound is returned when an address resolves to no place.
	ErrLocationNotFound = errors.New("location not found")

	// ErrGeocodingFailed wraps transport and provider errors from the geocoder.
	ErrGeocodingFailed = errors.New("geocoding failed")
)
