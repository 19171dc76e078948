package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_HWMDefaultsToEpoch(t *testing.T) {
	st := openStore(t)

	hwm, err := st.HWM()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), hwm)
}

func TestStore_HWMSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	mark := time.Date(2025, 6, 1, 12, 34, 56, 789*int(time.Millisecond), time.UTC)

	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.SaveHWM(mark))
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.HWM()
	require.NoError(t, err)
	assert.True(t, got.Equal(mark), "got %s, want %s", got, mark)
}

func TestStore_HWMKeepsMillisecondPrecision(t *testing.T) {
	st := openStore(t)

	// sub-millisecond detail is truncated by the storage format
	mark := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, st.SaveHWM(mark))

	got, err := st.HWM()
	require.NoError(t, err)
	assert.Equal(t, mark.Truncate(time.Millisecond), got)
}

func TestStore_TokensRoundTrip(t *testing.T) {
	st := openStore(t)

	access, refresh, err := st.Tokens()
	require.NoError(t, err)
	assert.Empty(t, access)
	assert.Empty(t, refresh)

	require.NoError(t, st.SaveTokens("acc-123", "ref-456"))
	access, refresh, err = st.Tokens()
	require.NoError(t, err)
	assert.Equal(t, "acc-123", access)
	assert.Equal(t, "ref-456", refresh)

	require.NoError(t, st.ClearTokens())
	access, refresh, err = st.Tokens()
	require.NoError(t, err)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestStore_EmailRoundTrip(t *testing.T) {
	st := openStore(t)

	email, err := st.Email()
	require.NoError(t, err)
	assert.Empty(t, email)

	require.NoError(t, st.SaveEmail("alice@example.com"))
	email, err = st.Email()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestStore_DestinationsRoundTrip(t *testing.T) {
	st := openStore(t)

	type creds struct {
		Bucket string `json:"bucket"`
		Region string `json:"region"`
	}

	found, err := st.Destination("s3", &creds{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.SaveDestination("s3", creds{Bucket: "shoots", Region: "eu-west-1"}))
	require.NoError(t, st.SaveDestination("backup", creds{Bucket: "cold"}))

	var got creds
	found, err = st.Destination("s3", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, creds{Bucket: "shoots", Region: "eu-west-1"}, got)

	names, err := st.DestinationNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"backup", "s3"}, names)

	require.NoError(t, st.DeleteDestination("s3"))
	found, err = st.Destination("s3", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SecondOpenOnSameDirFails(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	_, err = Open(dir)
	assert.Error(t, err, "state dir must be exclusive to one process")
}

func TestStore_OpenCreatesStateDir(t *testing.T) {
	dir := t.TempDir() + "/nested/state"

	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	assert.DirExists(t, dir)
}
