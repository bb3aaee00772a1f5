// Package quality implements the laboratory-analysis subsystem: analysis
// records sampled from weighings and the commercial-weight computation that
// folds configured deduction rules into a settlement weight.
package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"secadora/internal/quality/rule"
	"secadora/internal/weighing"
)

// SamplePoint is where in the process the laboratory sample was taken.
type SamplePoint string

const (
	SampleEntry   SamplePoint = "entrada"
	SampleProcess SamplePoint = "proceso"
	SampleExit    SamplePoint = "salida"
)

// AnalysisState — analyses start as drafts and are confirmed by the analyst.
type AnalysisState string

const (
	AnalysisDraft     AnalysisState = "draft"
	AnalysisConfirmed AnalysisState = "confirmed"
)

// Analysis is one laboratory sample, optionally tied to a weighing and a
// service order. The raw parameters are percentages as read in the lab; the
// commercial fields are derived by the Calculator and stored with the record.
type Analysis struct {
	ID      string
	Name    string
	At      time.Time
	Analyst string
	State   AnalysisState

	// Links. A weighing is referenced, never owned.
	WeighingID     string
	ServiceOrderID string
	Partner        string
	Product        string
	Variety        string
	OperationType  string
	SamplePoint    SamplePoint

	// Main parameters.
	Humidity         float64
	Impurities       float64
	BrokenGrain      float64
	GreenBrokenGrain float64
	RedGrain         float64
	Infestation      float64
	Dispersion       float64
	OvenShrinkage    float64

	// Whole-grain parameters.
	WholeGrainPct    float64
	HuskPct          float64
	BrokenWholePct   float64
	MillingYieldPct  float64

	// Milling parameters.
	FlourPct        float64
	WhiteBrokenPct  float64
	MillingIndexPct float64
	WhitenessKett   float64
	Transparency    float64
	PolishDegree    float64
	ChalkyGrainPct  float64
	AmberGrainPct   float64
	DamagedGrainPct float64

	Comments string

	// Derived by the Calculator.
	NetMass        float64
	CommercialMass float64
	MassDifference float64
	Trail          string
	Note           string
}

// Sample projects the deductible parameters for rule evaluation.
func (a *Analysis) Sample() rule.Sample {
	return rule.Sample{
		rule.ParamHumidity:         a.Humidity,
		rule.ParamImpurities:       a.Impurities,
		rule.ParamBrokenGrain:      a.BrokenGrain,
		rule.ParamGreenBrokenGrain: a.GreenBrokenGrain,
		rule.ParamRedGrain:         a.RedGrain,
		rule.ParamInfestation:      a.Infestation,
		rule.ParamHusk:             a.HuskPct,
		rule.ParamFlour:            a.FlourPct,
		rule.ParamChalkyGrain:      a.ChalkyGrainPct,
		rule.ParamAmberGrain:       a.AmberGrainPct,
		rule.ParamDamagedGrain:     a.DamagedGrainPct,
	}
}

// SetParameters fills the raw parameters from a key → value map using the
// plant's parameter identifiers. Unknown keys are ignored; the laboratory
// sheet occasionally carries columns this system does not evaluate.
func (a *Analysis) SetParameters(params map[string]float64) {
	fields := map[string]*float64{
		"humedad":                 &a.Humidity,
		"impurezas":               &a.Impurities,
		"grano_partido":           &a.BrokenGrain,
		"grano_partido_verde":     &a.GreenBrokenGrain,
		"grano_rojo":              &a.RedGrain,
		"infestacion":             &a.Infestation,
		"dispersion":              &a.Dispersion,
		"merma_estufa":            &a.OvenShrinkage,
		"integral_pct":            &a.WholeGrainPct,
		"cascarilla_pct":          &a.HuskPct,
		"grano_partido_integral":  &a.BrokenWholePct,
		"rendimiento_pilada_pct":  &a.MillingYieldPct,
		"harina_pct":              &a.FlourPct,
		"grano_partido_blanco":    &a.WhiteBrokenPct,
		"indice_pilada_pct":       &a.MillingIndexPct,
		"blancura_kett":           &a.WhitenessKett,
		"transparencia":           &a.Transparency,
		"grado_pulimento":         &a.PolishDegree,
		"grano_yesado_pct":        &a.ChalkyGrainPct,
		"grano_ambarino_pct":      &a.AmberGrainPct,
		"grano_con_dano_pct":      &a.DamagedGrainPct,
	}
	for key, value := range params {
		if field, found := fields[key]; found {
			*field = value
		}
	}
}

// PrefillFromWeighing copies partner, product, operation type and service
// order from the weighing the sample was taken at, so the analyst does not
// retype what the scale house already captured.
func (a *Analysis) PrefillFromWeighing(w *weighing.Weighing) {
	a.WeighingID = w.ID
	if a.Partner == "" {
		a.Partner = w.Partner
	}
	if a.Product == "" {
		a.Product = w.Product
	}
	if a.Variety == "" {
		a.Variety = w.Variety
	}
	if a.OperationType == "" && w.OperationType != nil {
		a.OperationType = w.OperationType.Code
	}
	if a.ServiceOrderID == "" {
		a.ServiceOrderID = w.ServiceOrderID
	}
}

// AnalysisRepository is a thread-safe in-memory store of analyses.
type AnalysisRepository struct {
	analyses map[string]*Analysis
	seq      int
	mu       sync.RWMutex
}

// NewAnalysisRepository creates an empty analysis repository.
func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{analyses: make(map[string]*Analysis)}
}

// Create stores a new draft analysis and assigns its id and ticket number.
func (r *AnalysisRepository) Create(a *Analysis) *Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	a.ID = uuid.NewString()
	a.Name = fmt.Sprintf("AN-%05d", r.seq)
	a.State = AnalysisDraft
	if a.At.IsZero() {
		a.At = time.Now()
	}
	if a.SamplePoint == "" {
		a.SamplePoint = SampleEntry
	}
	r.analyses[a.ID] = a
	return a
}

// Get returns the analysis with the given id.
func (r *AnalysisRepository) Get(id string) (*Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, found := r.analyses[id]
	if !found {
		return nil, weighing.NewNotFoundError("analysis", id)
	}
	return a, nil
}

// Confirm moves the analysis to confirmed.
func (r *AnalysisRepository) Confirm(id string) (*Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, found := r.analyses[id]
	if !found {
		return nil, weighing.NewNotFoundError("analysis", id)
	}
	a.State = AnalysisConfirmed
	return a, nil
}

// Reopen moves a confirmed analysis back to draft.
func (r *AnalysisRepository) Reopen(id string) (*Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, found := r.analyses[id]
	if !found {
		return nil, weighing.NewNotFoundError("analysis", id)
	}
	a.State = AnalysisDraft
	return a, nil
}
