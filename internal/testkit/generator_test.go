package testkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abstat/domain/experiment"
)

func TestScenario_Generate_Binary(t *testing.T) {
	scenario := ConversionScenario(500, 0.10, 0.05, 99)
	records, err := scenario.Generate()
	require.NoError(t, err)
	require.Len(t, records, 1000)

	counts := map[experiment.Group]int{}
	conversions := map[experiment.Group]float64{}
	for _, r := range records {
		require.Contains(t, []float64{0, 1}, r.Value, "binary values are 0 or 1")
		require.NotEmpty(t, r.SubjectID.String())
		counts[r.Group]++
		conversions[r.Group] += r.Value
	}
	assert.Equal(t, 500, counts[experiment.GroupControl])
	assert.Equal(t, 500, counts["treatment"])

	// Rates should sit near their configured parameters.
	assert.InDelta(t, 0.10, conversions[experiment.GroupControl]/500, 0.05)
	assert.InDelta(t, 0.15, conversions["treatment"]/500, 0.06)
}

func TestScenario_Generate_Deterministic(t *testing.T) {
	scenario := ConversionScenario(200, 0.2, 0.1, 7)

	first := scenario.MustGenerate()
	second := scenario.MustGenerate()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].SubjectID, second[i].SubjectID)
		assert.Equal(t, first[i].Group, second[i].Group)
		assert.Equal(t, first[i].Value, second[i].Value, "same seed must reproduce values")
	}

	scenario.Seed = 8
	third := scenario.MustGenerate()
	diff := 0
	for i := range first {
		if first[i].Value != third[i].Value {
			diff++
		}
	}
	assert.Greater(t, diff, 0, "a new seed must change the draw")
}

func TestScenario_Generate_MultiArmOrdering(t *testing.T) {
	scenario := Scenario{
		MetricKind: experiment.MetricBinary,
		Subjects:   10,
		Seed:       1,
		Baseline:   0.5,
		Lifts:      map[experiment.Group]float64{"zeta": 0, "alpha": 0},
	}
	records := scenario.MustGenerate()
	require.Len(t, records, 30)

	assert.Equal(t, experiment.GroupControl, records[0].Group, "control comes first")
	assert.Equal(t, experiment.Group("alpha"), records[10].Group, "treatments follow in name order")
	assert.Equal(t, experiment.Group("zeta"), records[20].Group)
}

func TestScenario_Generate_ContinuousAndCount(t *testing.T) {
	continuous := Scenario{
		MetricKind: experiment.MetricContinuous,
		Subjects:   2000,
		Seed:       5,
		Baseline:   50,
		StdDev:     5,
		Lifts:      map[experiment.Group]float64{"treatment": 2},
	}
	records := continuous.MustGenerate()

	var controlSum, treatmentSum float64
	for _, r := range records {
		if r.Group.IsControl() {
			controlSum += r.Value
		} else {
			treatmentSum += r.Value
		}
	}
	assert.InDelta(t, 50, controlSum/2000, 0.5)
	assert.InDelta(t, 52, treatmentSum/2000, 0.5)

	count := Scenario{
		MetricKind: experiment.MetricCount,
		Subjects:   100,
		Seed:       5,
		Baseline:   3,
	}
	for _, r := range count.MustGenerate() {
		assert.GreaterOrEqual(t, r.Value, 0.0)
		assert.Equal(t, r.Value, float64(int(r.Value)), "counts are whole numbers")
	}
}

func TestScenario_Generate_Validation(t *testing.T) {
	_, err := Scenario{MetricKind: experiment.MetricBinary, Subjects: 0, Baseline: 0.1}.Generate()
	require.Error(t, err, "subject count must be positive")

	_, err = Scenario{MetricKind: "ordinal", Subjects: 10, Baseline: 0.1}.Generate()
	require.Error(t, err, "unknown metric kind")

	_, err = Scenario{
		MetricKind: experiment.MetricBinary,
		Subjects:   10,
		Baseline:   0.95,
		Lifts:      map[experiment.Group]float64{"treatment": 0.2},
	}.Generate()
	require.Error(t, err, "lifted rate above 1")

	_, err = Scenario{
		MetricKind: experiment.MetricBinary,
		Subjects:   10,
		Baseline:   0.5,
		Lifts:      map[experiment.Group]float64{experiment.GroupControl: 0.1},
	}.Generate()
	require.Error(t, err, "control cannot take a lift")
}
