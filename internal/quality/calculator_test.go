package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secadora/internal/quality/rule"
)

func testRules(t *testing.T, rules ...*rule.Rule) *rule.Repository {
	t.Helper()
	repo, err := rule.NewRepository()
	require.NoError(t, err)
	for _, r := range rules {
		require.NoError(t, repo.Add(r))
	}
	return repo
}

func humidityDoubleDiscount() *rule.Rule {
	return &rule.Rule{
		Name: "Humedad compra", Sequence: 10, Active: true,
		OperationType: "COMPRA", Parameter: rule.ParamHumidity,
		Threshold: 13.0, Mode: rule.ModeDoubleDiscount,
	}
}

func humidityPercentPerPoint() *rule.Rule {
	return &rule.Rule{
		Name: "Humedad compra", Sequence: 10, Active: true,
		OperationType: "COMPRA", Parameter: rule.ParamHumidity,
		Threshold: 13.0, Mode: rule.ModePercentPerPoint, Factor: 1.0,
	}
}

func impuritiesPercentPerPoint() *rule.Rule {
	return &rule.Rule{
		Name: "Impurezas compra", Sequence: 20, Active: true,
		OperationType: "COMPRA", Parameter: rule.ParamImpurities,
		Threshold: 3.0, Mode: rule.ModePercentPerPoint, Factor: 1.0,
	}
}

func purchaseAnalysis(humidity float64) *Analysis {
	return &Analysis{
		WeighingID:    "w-1",
		OperationType: "COMPRA",
		Product:       "arroz-inia",
		Humidity:      humidity,
	}
}

func TestCalculator_PercentPerPoint(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	// 1000 - 1000*(2/100)*1.0
	assert.InDelta(t, 980.0, result.CommercialMass, 1e-9)
	assert.InDelta(t, 20.0, result.Difference, 1e-9)
	assert.Empty(t, result.Note)
}

func TestCalculator_DoubleDiscount(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityDoubleDiscount()), true)
	a := purchaseAnalysis(15.0)

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	// 1000 * (85/87)
	assert.InDelta(t, 977.0115, result.CommercialMass, 0.001)
}

func TestCalculator_FactorAndMassCombined(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityDoubleDiscount(), impuritiesPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)
	a.Impurities = 5.0

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	// 1000*(85/87) - 1000*(2/100)*1.0
	assert.InDelta(t, 957.0115, result.CommercialMass, 0.001)
	assert.InDelta(t, 42.9885, result.Difference, 0.001)
}

func TestCalculator_WritesBackOntoAnalysis(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, a.NetMass)
	assert.Equal(t, result.CommercialMass, a.CommercialMass)
	assert.Equal(t, result.Difference, a.MassDifference)
	assert.Equal(t, result.Trail, a.Trail)
}

func TestCalculator_Trail(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityDoubleDiscount(), impuritiesPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)
	a.Impurities = 5.0

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)

	lines := strings.Split(result.Trail, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Net mass: 1000.00 kg | Operation: COMPRA | Product: arroz-inia", lines[0])
	assert.Contains(t, lines[1], "[factor] Humedad (%)")
	assert.Contains(t, lines[2], "[kg] Impurezas (%)")
	assert.Contains(t, lines[3], "Commercial mass = 1000.00 * 0.977011 - 20.00 = 957.01 kg")
}

func TestCalculator_TrailOrderIsStable(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityDoubleDiscount(), impuritiesPercentPerPoint()), true)

	first, err := calc.Compute(purchaseAnalysisWithImpurities(), 1000)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.Compute(purchaseAnalysisWithImpurities(), 1000)
		require.NoError(t, err)
		assert.Equal(t, first.Trail, again.Trail)
	}
}

func purchaseAnalysisWithImpurities() *Analysis {
	a := purchaseAnalysis(15.0)
	a.Impurities = 5.0
	return a
}

func TestCalculator_WithinSpecCargo(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityDoubleDiscount(), impuritiesPercentPerPoint()), true)
	a := purchaseAnalysis(12.0)
	a.Impurities = 2.0

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, result.CommercialMass, "within-spec cargo keeps its full net mass")
	assert.Zero(t, result.Difference)
	assert.Contains(t, result.Trail, "No deductions applied.")
}

func TestCalculator_Disabled(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), false)
	a := purchaseAnalysis(15.0)

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.Zero(t, result.CommercialMass)
	assert.Equal(t, "commercial weight computation is disabled", result.Note)
	assert.Equal(t, result.Note, a.Note)
}

func TestCalculator_NoLinkedWeighing(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)
	a.WeighingID = ""

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.Zero(t, result.CommercialMass)
	assert.Equal(t, "no weighing linked to the analysis", result.Note)
}

func TestCalculator_NonPositiveNetMass(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)

	result, err := calc.Compute(a, 0)
	require.NoError(t, err)
	assert.Zero(t, result.CommercialMass)
	assert.Contains(t, result.Note, "not positive")
}

func TestCalculator_NoOperationType(t *testing.T) {
	calc := NewCalculator(testRules(t, humidityPercentPerPoint()), true)
	a := purchaseAnalysis(15.0)
	a.OperationType = ""

	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, result.CommercialMass)
	assert.Equal(t, "No operation type resolvable: no deductions applied.", result.Trail)
}

func TestCalculator_ProductSpecificRuleWins(t *testing.T) {
	specific := humidityPercentPerPoint()
	specific.Name = "Humedad INIA"
	specific.Product = "arroz-inia"
	specific.Sequence = 50
	calc := NewCalculator(testRules(t, humidityDoubleDiscount(), specific), true)

	a := purchaseAnalysis(15.0)
	result, err := calc.Compute(a, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 980.0, result.CommercialMass, 1e-9,
		"the product-specific percent-per-point rule displaces the generic double discount")

	other := purchaseAnalysis(15.0)
	other.Product = "arroz-el-paso"
	result, err = calc.Compute(other, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 977.0115, result.CommercialMass, 0.001)
}

func TestAnalysis_SetParameters(t *testing.T) {
	a := &Analysis{}
	a.SetParameters(map[string]float64{
		"humedad":    15.5,
		"impurezas":  2.1,
		"grano_rojo": 1.0,
		"proteina":   8.0, // not a known column, ignored
	})

	assert.Equal(t, 15.5, a.Humidity)
	assert.Equal(t, 2.1, a.Impurities)
	assert.Equal(t, 1.0, a.RedGrain)

	sample := a.Sample()
	assert.Equal(t, 15.5, sample[rule.ParamHumidity])
	assert.Equal(t, 1.0, sample[rule.ParamRedGrain])
}

func TestAnalysisRepository(t *testing.T) {
	repo := NewAnalysisRepository()

	a := repo.Create(&Analysis{Analyst: "lvera"})
	assert.Equal(t, "AN-00001", a.Name)
	assert.Equal(t, AnalysisDraft, a.State)
	assert.Equal(t, SampleEntry, a.SamplePoint)
	assert.False(t, a.At.IsZero())

	stored, err := repo.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, stored)

	confirmed, err := repo.Confirm(a.ID)
	require.NoError(t, err)
	assert.Equal(t, AnalysisConfirmed, confirmed.State)

	reopened, err := repo.Reopen(a.ID)
	require.NoError(t, err)
	assert.Equal(t, AnalysisDraft, reopened.State)

	_, err = repo.Get("missing")
	assert.Error(t, err)
}
