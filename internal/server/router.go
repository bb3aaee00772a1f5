package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"secadora/internal/journal"
	"secadora/internal/quality"
	"secadora/internal/weighing"
)

// AuthenticationError is returned when the scale bridge presents a missing or
// wrong API key.
type AuthenticationError struct{}

// Error returns a textual description of the error.
func (e *AuthenticationError) Error() string {
	return "invalid API key"
}

// ApiV1Router manages routes for API version 1: the weighing lifecycle, the
// laboratory analyses and the two endpoints the external scale bridge calls.
type ApiV1Router struct {
	// weighings — weighing store and state machine.
	weighings *weighing.Repository
	// orders — service order store.
	orders *weighing.OrderRepository
	// analyses — laboratory analysis store.
	analyses *quality.AnalysisRepository
	// calculator — commercial-weight compositor.
	calculator *quality.Calculator
	// journal — audit journal for completed weighings and computed analyses.
	journal journal.Journal
	// apiKey — shared secret required on the bridge endpoints.
	apiKey string
}

// NewApiV1Router creates a new API v1 router.
func NewApiV1Router(
	apiKey string,
	weighings *weighing.Repository,
	orders *weighing.OrderRepository,
	analyses *quality.AnalysisRepository,
	calculator *quality.Calculator,
	auditJournal journal.Journal,
) *ApiV1Router {
	return &ApiV1Router{
		weighings:  weighings,
		orders:     orders,
		analyses:   analyses,
		calculator: calculator,
		journal:    auditJournal,
		apiKey:     apiKey,
	}
}

// Mux returns a configured *http.ServeMux with registered handlers.
func (ar *ApiV1Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/weighings", ar.createWeighingHandler)
	mux.HandleFunc("GET /api/v1/weighings/{id}", ar.getWeighingHandler)
	mux.HandleFunc("POST /api/v1/weighings/{id}/first-mass", ar.firstMassHandler)
	mux.HandleFunc("POST /api/v1/weighings/{id}/second-mass", ar.secondMassHandler)
	mux.HandleFunc("POST /api/v1/weighings/{id}/cancel", ar.cancelHandler)
	mux.HandleFunc("POST /api/v1/weighings/{id}/link-order", ar.linkOrderHandler)

	mux.HandleFunc("POST /api/v1/scale/mass", ar.scaleMassHandler)
	mux.HandleFunc("POST /api/v1/scale/active", ar.scaleActiveHandler)

	mux.HandleFunc("POST /api/v1/orders", ar.createOrderHandler)
	mux.HandleFunc("GET /api/v1/orders/{id}", ar.getOrderHandler)

	mux.HandleFunc("POST /api/v1/analyses", ar.createAnalysisHandler)
	mux.HandleFunc("GET /api/v1/analyses/{id}", ar.getAnalysisHandler)
	mux.HandleFunc("POST /api/v1/analyses/{id}/confirm", ar.confirmAnalysisHandler)

	return mux
}

// decode reads and unmarshals a JSON request body into v.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return json.Unmarshal(body, v)
}

// writeJSON marshals v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Unable to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeError maps a domain error to an HTTP status and writes it. The error
// text carries the identifiers and offending values the operator needs to
// correct the input.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest

	var (
		notFound     *weighing.NotFoundError
		invalidState *weighing.InvalidStateError
		noMass       *weighing.NoMassAvailableError
		priorMass    *weighing.MissingPriorMassError
		netMass      *weighing.NonPositiveNetMassError
		direction    *weighing.DirectionMismatchError
		client       *weighing.ClientMismatchError
		operation    *weighing.UnknownOperationError
		auth         *AuthenticationError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &auth):
		status = http.StatusUnauthorized
	case errors.As(err, &invalidState),
		errors.As(err, &priorMass),
		errors.As(err, &netMass),
		errors.As(err, &direction),
		errors.As(err, &client):
		status = http.StatusConflict
	case errors.As(err, &noMass), errors.As(err, &operation):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]any{"ok": false, "message": err.Error()})
}

// weighingBody is the JSON shape of a weighing in responses.
type weighingBody struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Direction      string  `json:"direction"`
	OperationType  string  `json:"operation_type"`
	Plate          string  `json:"plate"`
	Partner        string  `json:"partner"`
	Product        string  `json:"product"`
	Variety        string  `json:"variety"`
	ServiceOrderID string  `json:"service_order_id,omitempty"`
	GrossMass      float64 `json:"gross_mass"`
	TareMass       float64 `json:"tare_mass"`
	NetMass        float64 `json:"net_mass"`
	LiveMass       float64 `json:"live_mass"`
	Listening      bool    `json:"listening"`
}

func toWeighingBody(w *weighing.Weighing) weighingBody {
	body := weighingBody{
		ID:             w.ID,
		Name:           w.Name,
		State:          string(w.State),
		Direction:      string(w.Direction),
		Plate:          w.Plate,
		Partner:        w.Partner,
		Product:        w.Product,
		Variety:        w.Variety,
		ServiceOrderID: w.ServiceOrderID,
		GrossMass:      w.GrossMass,
		TareMass:       w.TareMass,
		NetMass:        w.NetMass,
		LiveMass:       w.LiveMass,
		Listening:      w.Listening,
	}
	if w.OperationType != nil {
		body.OperationType = w.OperationType.Code
	}
	return body
}

// createWeighingHandler creates a draft weighing.
func (ar *ApiV1Router) createWeighingHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperationType string  `json:"operation_type"`
		Direction     string  `json:"direction"`
		Plate         string  `json:"plate"`
		Partner       string  `json:"partner"`
		Product       string  `json:"product"`
		Variety       string  `json:"variety"`
		Price         float64 `json:"price"`
	}
	if err := decode(r, &req); err != nil {
		slog.Warn("Unable to decode weighing request", "error", err)
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	record := &weighing.Weighing{
		Direction: weighing.Direction(req.Direction),
		Plate:     req.Plate,
		Partner:   req.Partner,
		Product:   req.Product,
		Variety:   req.Variety,
		Price:     req.Price,
	}
	record, err := ar.weighings.Create(record, req.OperationType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toWeighingBody(record))
}

// getWeighingHandler returns one weighing by id.
func (ar *ApiV1Router) getWeighingHandler(w http.ResponseWriter, r *http.Request) {
	record, err := ar.weighings.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeighingBody(record))
}

// firstMassHandler applies the first mass capture.
func (ar *ApiV1Router) firstMassHandler(w http.ResponseWriter, r *http.Request) {
	record, err := ar.weighings.RecordFirstMass(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeighingBody(record))
}

// secondMassHandler applies the second mass capture. A successful second
// capture completes the weighing and is journaled.
func (ar *ApiV1Router) secondMassHandler(w http.ResponseWriter, r *http.Request) {
	record, err := ar.weighings.RecordSecondMass(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	ar.journal.Append("weighing_completed", map[string]any{
		"weighing": record.Name,
		"gross":    record.GrossMass,
		"tare":     record.TareMass,
		"net":      record.NetMass,
	})
	writeJSON(w, http.StatusOK, toWeighingBody(record))
}

// cancelHandler cancels a weighing.
func (ar *ApiV1Router) cancelHandler(w http.ResponseWriter, r *http.Request) {
	record, err := ar.weighings.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeighingBody(record))
}

// linkOrderHandler links a weighing to a service order of the same client.
func (ar *ApiV1Router) linkOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := decode(r, &req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	order, err := ar.orders.Get(req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := ar.weighings.AssignOrder(r.PathValue("id"), order)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := ar.orders.Attach(order.ID, record.ID, record.Direction); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWeighingBody(record))
}

// scaleMassHandler receives a live reading from the external bridge.
// Body: {"weighing_id": "...", "mass": 28345.5, "api_key": "..."}.
func (ar *ApiV1Router) scaleMassHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WeighingID string  `json:"weighing_id"`
		Mass       float64 `json:"mass"`
		APIKey     string  `json:"api_key"`
	}
	if err := decode(r, &req); err != nil {
		slog.Warn("Unable to decode scale mass request", "error", err)
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	if req.APIKey != ar.apiKey {
		slog.Warn("Scale bridge authentication failed")
		writeError(w, &AuthenticationError{})
		return
	}

	record, err := ar.weighings.UpdateLiveMass(req.WeighingID, req.Mass)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mass": record.LiveMass})
}

// scaleActiveHandler tells the bridge which weighing is waiting for a
// capture. Body: {"api_key": "..."}.
func (ar *ApiV1Router) scaleActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decode(r, &req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	if req.APIKey != ar.apiKey {
		slog.Warn("Scale bridge authentication failed")
		writeError(w, &AuthenticationError{})
		return
	}

	record, found := ar.weighings.Active()
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "message": "no active weighing"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"weighing_id": record.ID,
		"state":       record.State,
		"direction":   record.Direction,
		"plate":       record.Plate,
	})
}

// createOrderHandler creates a service order.
func (ar *ApiV1Router) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client      string `json:"client"`
		ServiceType string `json:"service_type"`
	}
	if err := decode(r, &req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	order := ar.orders.Create(&weighing.ServiceOrder{
		Client:      req.Client,
		ServiceType: req.ServiceType,
	})
	writeJSON(w, http.StatusCreated, order)
}

// getOrderHandler returns one service order by id.
func (ar *ApiV1Router) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := ar.orders.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// analysisBody is the JSON shape of an analysis in responses.
type analysisBody struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	State          string  `json:"state"`
	WeighingID     string  `json:"weighing_id,omitempty"`
	OperationType  string  `json:"operation_type,omitempty"`
	Product        string  `json:"product,omitempty"`
	NetMass        float64 `json:"net_mass"`
	CommercialMass float64 `json:"commercial_mass"`
	MassDifference float64 `json:"mass_difference"`
	Trail          string  `json:"trail"`
	Note           string  `json:"note,omitempty"`
}

func toAnalysisBody(a *quality.Analysis) analysisBody {
	return analysisBody{
		ID:             a.ID,
		Name:           a.Name,
		State:          string(a.State),
		WeighingID:     a.WeighingID,
		OperationType:  a.OperationType,
		Product:        a.Product,
		NetMass:        a.NetMass,
		CommercialMass: a.CommercialMass,
		MassDifference: a.MassDifference,
		Trail:          a.Trail,
		Note:           a.Note,
	}
}

// createAnalysisHandler creates a laboratory analysis, pre-fills it from its
// weighing when one is given, computes the commercial mass and journals the
// computation.
func (ar *ApiV1Router) createAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WeighingID  string             `json:"weighing_id"`
		Analyst     string             `json:"analyst"`
		SamplePoint string             `json:"sample_point"`
		Product     string             `json:"product"`
		Parameters  map[string]float64 `json:"parameters"`
		Comments    string             `json:"comments"`
	}
	if err := decode(r, &req); err != nil {
		slog.Warn("Unable to decode analysis request", "error", err)
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	analysis := &quality.Analysis{
		Analyst:     req.Analyst,
		SamplePoint: quality.SamplePoint(req.SamplePoint),
		Product:     req.Product,
		Comments:    req.Comments,
	}
	analysis.SetParameters(req.Parameters)

	var netMass float64
	if req.WeighingID != "" {
		record, err := ar.weighings.Get(req.WeighingID)
		if err != nil {
			writeError(w, err)
			return
		}
		analysis.PrefillFromWeighing(record)
		netMass = record.NetMass
	}

	// Compute before storing: a failed evaluation must leave no partial
	// analysis behind.
	result, err := ar.calculator.Compute(analysis, netMass)
	if err != nil {
		writeError(w, err)
		return
	}
	ar.analyses.Create(analysis)

	ar.journal.Append("analysis_computed", map[string]any{
		"analysis":        analysis.Name,
		"weighing":        analysis.WeighingID,
		"net_mass":        netMass,
		"commercial_mass": result.CommercialMass,
		"difference":      result.Difference,
	})
	writeJSON(w, http.StatusCreated, toAnalysisBody(analysis))
}

// getAnalysisHandler returns one analysis by id.
func (ar *ApiV1Router) getAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	analysis, err := ar.analyses.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisBody(analysis))
}

// confirmAnalysisHandler confirms a draft analysis.
func (ar *ApiV1Router) confirmAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	analysis, err := ar.analyses.Confirm(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisBody(analysis))
}
