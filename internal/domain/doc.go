// Package domain models per-neighbourhood flood risk for a single city.
//
// # Inputs
//
// Three geodata layers feed the elevation estimate:
//
//	Neighbourhood polygons  vector layer (GeoJSON or shapefile), one name attribute
//	Road-network nodes      graph export (GraphML or GeoJSON points) with lon/lat x/y
//	Elevation raster        single-band grid (ESRI ASCII or BIL), metres
//
// The road nodes are a convenient, dense sample of where people actually live and
// drive. Each node is joined to the neighbourhood containing it and the raster is
// read at the node. The mean of the valid readings becomes the neighbourhood's
// elevation.
//
// # Invalid readings
//
// Raster values <= 0 (and nodata) are dropped before averaging. Belém sits a few
// metres above sea level, so a non-positive reading almost always means the point
// fell on water, outside the DEM, or the layers are misaligned. This is a policy,
// not a physical statement: a neighbourhood with no valid reading is ABSENT from the
// [ElevationIndex], never present with 0.
//
// # Risk resolution
//
// For every known neighbourhood:
//
//	elevation > 0 and model available  →  score = model(rain, water, elev); risk = score > 0.5
//	otherwise                          →  risk = rain > 150 mm
//
// The fallback deliberately under-predicts when elevation is unknown: it only fires
// for extreme rainfall, which keeps the map explainable.
//
// # Name keys
//
// The frontend paints an SVG whose element ids are derived from neighbourhood names.
// [NameKeys.Key] is that derivation: lower-case, strip accents, apply the remap table
// shipped in namekeys.json, remove whitespace. Changing any step (or the table)
// breaks the frontend, so the table carries a version.
package domain
