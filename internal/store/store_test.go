package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/SAMO/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Identity{ID: 1, Problem: "rosenbrock"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentityString(t *testing.T) {
	assert.Equal(t, "001-rosenbrock", Identity{ID: 1, Problem: "rosenbrock"}.String())
	assert.Equal(t, "042-bnh", Identity{ID: 42, Problem: "bnh"}.String())
}

func TestTrainingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	inputs := [][]float64{{1, 2}, {3, 4}}
	outputs := [][]float64{{10}, {20}}
	require.NoError(t, s.AppendTraining(1, inputs, outputs))
	require.NoError(t, s.AppendTraining(2, [][]float64{{5, 6}}, [][]float64{{30}}))

	records, err := s.TrainingRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Insertion order is preserved.
	assert.Equal(t, []float64{1, 2}, records[0].Inputs)
	assert.Equal(t, []float64{10}, records[0].Outputs)
	assert.Equal(t, 1, records[0].Iteration)
	assert.Equal(t, 2, records[2].Iteration)
	assert.Equal(t, []float64{5, 6}, records[2].Inputs)
}

func TestAppendRejectsMismatchedBatch(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendTraining(1, [][]float64{{1}}, [][]float64{{1}, {2}})
	assert.Error(t, err)
}

func TestMergeVerificationIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AppendTraining(1, [][]float64{{0, 0}}, [][]float64{{1}}))
	require.NoError(t, s.AppendVerification(1, [][]float64{{1, 1}, {2, 2}}, [][]float64{{2}, {3}}))

	n, err := s.UnmergedVerificationCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	merged, err := s.MergeVerification()
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	records, err := s.TrainingRecords()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// A second merge moves nothing.
	merged, err = s.MergeVerification()
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	records, err = s.TrainingRecords()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// The verification database keeps its rows after the merge.
	vrecords, err := s.VerificationRecords()
	require.NoError(t, err)
	assert.Len(t, vrecords, 2)

	n, err = s.UnmergedVerificationCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatusRoundTrip(t *testing.T) {
	s := openTestStore(t)

	st, err := s.LoadStatus()
	require.NoError(t, err)
	assert.Nil(t, st)

	want := &Status{
		SurrogateTrained: true,
		DimIn:            2,
		DimOut:           1,
		RangeIn:          [][2]float64{{-2, 2}, {-2, 2}},
		RangeOut:         [][2]float64{{0, 100}},
	}
	require.NoError(t, s.SaveStatus(want))

	got, err := s.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Saving again replaces the single row.
	want.SurrogateTrained = false
	require.NoError(t, s.SaveStatus(want))
	got, err = s.LoadStatus()
	require.NoError(t, err)
	assert.False(t, got.SurrogateTrained)
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LoadConfig()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveConfig(`{"seed":1}`))
	stored, ok, err := s.LoadConfig()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"seed":1}`, stored)
}

func TestDestroyRemovesFile(t *testing.T) {
	dir := t.TempDir()
	id := Identity{ID: 7, Problem: "bnh"}
	s, err := Open(dir, id)
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	_, statErr := os.Stat(Path(dir, id))
	assert.True(t, os.IsNotExist(statErr))
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Data.Dir = dir
	return cfg
}

func TestResolveFreshRun(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	id := Identity{ID: 1, Problem: "rosenbrock"}

	s, resumed, err := Resolve(cfg, id, "fp", AutoDecision(false))
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, resumed)
}

func TestResolveResumesUnconvergedRun(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	id := Identity{ID: 1, Problem: "rosenbrock"}

	prior, _, err := Resolve(cfg, id, "fp", AutoDecision(false))
	require.NoError(t, err)
	require.NoError(t, prior.AppendTraining(1, [][]float64{{0, 0}}, [][]float64{{1}}))
	require.NoError(t, prior.SaveStatus(&Status{SurrogateTrained: false, DimIn: 2, DimOut: 1}))
	require.NoError(t, prior.Close())

	s, resumed, err := Resolve(cfg, id, "fp", AutoDecision(false))
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, resumed)

	records, err := s.TrainingRecords()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestResolveConflicts(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*Store)
		fp      string
		reason  string
	}{
		{
			name: "different config",
			prepare: func(s *Store) {
				_ = s.SaveStatus(&Status{SurrogateTrained: false})
			},
			fp:     "other-fp",
			reason: "inputs are different",
		},
		{
			name:    "missing status",
			prepare: func(s *Store) {},
			fp:      "fp",
			reason:  "missing or corrupt",
		},
		{
			name: "converged model",
			prepare: func(s *Store) {
				_ = s.SaveStatus(&Status{SurrogateTrained: true})
			},
			fp:     "fp",
			reason: "converged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, t.TempDir())
			id := Identity{ID: 1, Problem: "rosenbrock"}

			prior, _, err := Resolve(cfg, id, "fp", AutoDecision(false))
			require.NoError(t, err)
			tt.prepare(prior)
			require.NoError(t, prior.Close())

			// Declined: the run aborts with a ConflictError naming the
			// reason and nothing is destroyed.
			_, _, err = Resolve(cfg, id, tt.fp, AutoDecision(false))
			require.Error(t, err)
			conflict, ok := err.(*ConflictError)
			require.True(t, ok)
			assert.Contains(t, conflict.Reason, tt.reason)
			assert.Equal(t, id, conflict.Identity)

			// Accepted: prior results are destroyed and the run starts
			// fresh.
			s, resumed, err := Resolve(cfg, id, tt.fp, AutoDecision(true))
			require.NoError(t, err)
			defer s.Close()
			assert.False(t, resumed)
		})
	}
}

func TestResolveDirectModeNeverResumes(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Surrogate.Surrogate = config.SurrogateOff
	id := Identity{ID: 1, Problem: "rosenbrock"}

	prior, _, err := Resolve(cfg, id, "fp", AutoDecision(false))
	require.NoError(t, err)
	require.NoError(t, prior.SaveStatus(&Status{SurrogateTrained: false}))
	require.NoError(t, prior.Close())

	_, _, err = Resolve(cfg, id, "fp", AutoDecision(false))
	require.Error(t, err)
	conflict, ok := err.(*ConflictError)
	require.True(t, ok)
	assert.Contains(t, conflict.Reason, "direct optimization")
}

func TestResolveLoadModeIgnoresThresholdChanges(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	id := Identity{ID: 1, Problem: "rosenbrock"}

	prior, _, err := Resolve(cfg, id, "fp", AutoDecision(false))
	require.NoError(t, err)
	require.NoError(t, prior.SaveStatus(&Status{SurrogateTrained: true}))
	require.NoError(t, prior.Close())

	cfg.Surrogate.Surrogate = config.SurrogateLoad
	s, resumed, err := Resolve(cfg, id, "different-fp", AutoDecision(false))
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, resumed)
}
