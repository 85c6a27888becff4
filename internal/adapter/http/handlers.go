package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

const maxBodyBytes = 1 << 20

// Field names follow the contract the frontend and the model service share.
type riskRequestBody struct {
	RainfallMM  *float64 `json:"Rainfall_mm"`
	WaterLevelM *float64 `json:"WaterLevel_m"`
}

type pointRequestBody struct {
	riskRequestBody
	ElevationM *float64 `json:"Elevation_m"`
	Latitude   *float64 `json:"Latitude"`
	Longitude  *float64 `json:"Longitude"`
	Address    string   `json:"Address"`
}

type mapResponse struct {
	Risks domain.RiskResult `json:"riscos_por_bairro"`
}

type pointResponse struct {
	Score          float64  `json:"risco_calculado"`
	Classification string   `json:"classificacao"`
	Source         string   `json:"fonte"`
	Neighborhood   string   `json:"bairro,omitempty"`
	Key            string   `json:"chave,omitempty"`
	ElevationM     *float64 `json:"elevacao_m"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Address        string   `json:"endereco,omitempty"`
}

type neighborhoodResponse struct {
	Name       string   `json:"nome"`
	Key        string   `json:"chave"`
	ElevationM *float64 `json:"elevacao_m"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b riskRequestBody) toDomain() (domain.RiskRequest, error) {
	if b.RainfallMM == nil || b.WaterLevelM == nil {
		return domain.RiskRequest{}, fmt.Errorf("%w: Rainfall_mm and WaterLevel_m are required", domain.ErrInvalidRequest)
	}
	return domain.RiskRequest{RainfallMM: *b.RainfallMM, WaterLevelM: *b.WaterLevelM}, nil
}

func sourceLabel(s domain.RiskSource) string {
	if s == domain.SourceModel {
		return "modelo"
	}
	return "regra_chuva"
}

func (s *Server) handleMapRisk(w http.ResponseWriter, r *http.Request) {
	var body riskRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.risk.MapRisk(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, mapResponse{Risks: result})
}

func (s *Server) handlePointRisk(w http.ResponseWriter, r *http.Request) {
	var body pointRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.risk.PointRisk(r.Context(), risk.PointRequest{
		RiskRequest: req,
		ElevationM:  body.ElevationM,
		Lat:         body.Latitude,
		Lon:         body.Longitude,
		Address:     body.Address,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, pointResponse{
		Score:          res.Score,
		Classification: res.Classification,
		Source:         sourceLabel(res.Source),
		Neighborhood:   res.Neighborhood,
		Key:            res.Key,
		ElevationM:     res.ElevationM,
		Latitude:       res.Lat,
		Longitude:      res.Lon,
		Address:        res.Address,
	})
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	list, err := s.risk.ListNeighborhoods(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]neighborhoodResponse, len(list))
	for i, n := range list {
		out[i] = neighborhoodResponse{Name: n.Name, Key: n.Key, ElevationM: n.ElevationM}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"bairros": out})
}

// handleRefresh starts a reload in the background. The cache logs the outcome.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	go func() {
		if _, err := s.refresher.Refresh(context.Background()); err != nil {
			s.logger.Warn("manual geocache refresh failed", "error", err)
		}
	}()
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %w", domain.ErrInvalidRequest, err)
	}
	return nil
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrLocationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrGeocodingFailed):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrGeodataUnavailable),
		errors.Is(err, domain.ErrPredictionUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("risk request failed", "status", status, "error", err)
	}
	sharedobs.WriteJSON(w, status, errorResponse{Error: err.Error()})
}
