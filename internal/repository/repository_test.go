package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/models"
)

func sampleRun(id string, started time.Time) models.PipelineRun {
	return models.PipelineRun{
		ID:          id,
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Minute),
		Errors:      1,
		Warnings:    2,
		ErrorDigest: map[string]int{"data_unavailable": 1},
		Regime:      models.RegimeState{Label: models.RegimeCalm, ClassifyMethod: "hmm"},
		Ranked: []models.OpportunityScore{
			{Symbol: "AAPL", Score: 71.5, Tier: models.TierHigh, Factors: map[string]float64{"technical": 0.8}},
		},
		Skipped:  map[string]string{"ZZZ": "no_data"},
		Coverage: "1 of 2 symbols scored",
	}
}

func TestToRunRow(t *testing.T) {
	run := sampleRun("r1", time.Date(2026, 3, 2, 22, 0, 0, 0, time.FixedZone("ET", -5*3600)))
	row, err := toRunRow(run)
	require.NoError(t, err)

	assert.Equal(t, "r1", row.ID)
	assert.Equal(t, time.UTC, row.StartedAt.Location())
	assert.Equal(t, "CALM", row.Regime)
	assert.Equal(t, uint32(1), row.Scored)
	assert.Equal(t, uint32(1), row.Skipped)
	assert.Equal(t, uint32(1), row.Errors)
	assert.Equal(t, uint32(2), row.Warnings)

	var back models.PipelineRun
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &back))
	assert.Equal(t, "AAPL", back.Ranked[0].Symbol)
}

func TestClickHouseRunStore_SaveRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewClickHouseRunStore(db, "")
	run := sampleRun("r1", time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO pipeline_runs").
		WithArgs("r1", sqlmock.AnyArg(), sqlmock.AnyArg(), "CALM", uint32(1), uint32(1), uint32(1), uint32(2), "1 of 2 symbols scored", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseRunStore_SaveRunError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("boom"))

	err = NewClickHouseRunStore(db, "runs").SaveRun(context.Background(), sampleRun("r1", time.Now()))
	assert.ErrorContains(t, err, "save run")
}

func TestClickHouseRunStore_LatestRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	run := sampleRun("r9", time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC))
	payload, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM pipeline_runs ORDER BY started_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))

	got, err := NewClickHouseRunStore(db, "").LatestRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r9", got.ID)
	assert.Equal(t, 71.5, got.Ranked[0].Score)
}

func TestClickHouseRunStore_LatestRunEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT payload").WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	got, err := NewClickHouseRunStore(db, "").LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectQuery("SELECT payload").WillReturnError(sql.ErrConnDone)
	_, err = NewClickHouseRunStore(db, "").LatestRun(context.Background())
	assert.Error(t, err)
}

func TestRunsSchema(t *testing.T) {
	stmts := RunsSchema("")
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS pipeline_runs")
}

func TestMemoryRunStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(2)

	got, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*24*time.Hour))))
	}
	assert.Equal(t, 2, store.Len())

	got, err = store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", got.ID)

	// Returned runs are copies.
	got.Ranked[0].Factors["technical"] = 0
	again, _ := store.LatestRun(ctx)
	assert.Equal(t, 0.8, again.Ranked[0].Factors["technical"])
}

type fakeProducer struct {
	topic  string
	key    []byte
	value  interface{}
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, key, value
	return f.err
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSummaryPublisher(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewKafkaSummaryPublisher(prod, "nightscan.runs")

	require.NoError(t, pub.PublishRun(context.Background(), sampleRun("r1", time.Now())))
	assert.Equal(t, "nightscan.runs", prod.topic)
	assert.Equal(t, []byte("r1"), prod.key)
	assert.IsType(t, models.PipelineRun{}, prod.value)

	prod.err = errors.New("broker down")
	assert.ErrorContains(t, pub.PublishRun(context.Background(), sampleRun("r2", time.Now())), "r2")

	require.NoError(t, pub.Close())
	assert.True(t, prod.closed)
}
